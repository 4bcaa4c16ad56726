package web

import (
	"fmt"
	"html/template"
	"io"
	"time"

	"github.com/sweeney/humidity-fan/internal/status"
)

var indexTmpl = template.Must(template.New("index").Funcs(template.FuncMap{
	"uptime": func(d time.Duration) string {
		d = d.Truncate(time.Second)
		days := int(d.Hours()) / 24
		h := int(d.Hours()) % 24
		m := int(d.Minutes()) % 60
		s := int(d.Seconds()) % 60
		if days > 0 {
			return fmt.Sprintf("%dd %dh %dm %ds", days, h, m, s)
		}
		if h > 0 {
			return fmt.Sprintf("%dh %dm %ds", h, m, s)
		}
		if m > 0 {
			return fmt.Sprintf("%dm %ds", m, s)
		}
		return fmt.Sprintf("%ds", s)
	},
	"remaining": func(deadline, now time.Time) string {
		d := deadline.Sub(now).Round(time.Second)
		if d < 0 {
			d = 0
		}
		return d.String()
	},
	"f3": func(v float64) string {
		return fmt.Sprintf("%.3f", v)
	},
}).Parse(indexHTML))

const indexHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>Bathroom Fan</title>
<style>
body { font-family: monospace; max-width: 600px; margin: 2em auto; padding: 0 1em; }
h1 { font-size: 1.4em; }
table { border-collapse: collapse; width: 100%; margin: 1em 0; }
td, th { text-align: left; padding: 4px 8px; border-bottom: 1px solid #ddd; }
th { width: 40%; }
.on { color: green; font-weight: bold; }
.off { color: #888; }
.unknown { color: orange; }
.connected { color: green; }
.disconnected { color: red; }
.live-dot { display: inline-block; width: 8px; height: 8px; border-radius: 50%; margin-left: 6px; vertical-align: middle; }
.live-dot.ok { background: green; }
.live-dot.err { background: red; }
.live-dot.pending { background: orange; }
</style>
</head>
<body>
<h1>Bathroom Fan<span id="live-dot" class="live-dot pending" title="connecting"></span></h1>

<h2>Control</h2>
<table>
<tr><th>State</th><td id="fan-state">{{.Fan.State}}</td></tr>
<tr><th>Automatic control</th><td id="fan-enabled" class="{{if .Fan.Enabled}}on{{else}}off{{end}}">{{if .Fan.Enabled}}enabled{{else}}disabled{{end}}</td></tr>
<tr><th>Fan</th><td id="fan-actuator" class="{{if eq .Fan.Actuator "on"}}on{{else if eq .Fan.Actuator "off"}}off{{else}}unknown{{end}}">{{if .Fan.Actuator}}{{.Fan.Actuator}}{{else}}unknown{{end}}</td></tr>
<tr><th>Differential</th><td id="fan-diff">{{if .Fan.LastEvaluatedAt.IsZero}}-{{else}}{{f3 .Fan.Differential}}{{if not .Fan.ReadingsValid}} (stale){{end}}{{end}}</td></tr>
<tr><th>Threshold</th><td>{{f3 .Config.LowerThreshold}} / {{f3 .Config.Threshold}}</td></tr>
<tr><th>Auto shutoff</th><td id="fan-auto">{{with .Fan.AutoShutoff}}in {{remaining .Deadline $.Now}}{{else}}-{{end}}</td></tr>
<tr><th>Manual shutoff</th><td id="fan-manual">{{with .Fan.ManualShutoff}}in {{remaining .Deadline $.Now}}{{else}}-{{end}}</td></tr>
</table>

{{if not .Fan.LastEvaluatedAt.IsZero}}
<h2>Readings</h2>
<table>
<tr><th>Bathroom</th><td>{{.Fan.Readings.Bathroom.Humidity}}% @ {{.Fan.Readings.Bathroom.Temperature}}°{{.Config.Unit}}</td></tr>
<tr><th>Living room</th><td>{{.Fan.Readings.Living.Humidity}}% @ {{.Fan.Readings.Living.Temperature}}°{{.Config.Unit}}</td></tr>
</table>
{{end}}

<h2>Entities</h2>
<table>
{{range $id, $v := .Entities}}<tr><th>{{$id}}</th><td>{{$v}}</td></tr>
{{end}}</table>

<h2>Connectivity</h2>
<table>
<tr><th>MQTT</th><td class="{{if .MQTTConnected}}connected{{else}}disconnected{{end}}">{{if .MQTTConnected}}connected{{else}}disconnected{{end}}</td></tr>
<tr><th>Broker</th><td>{{.Config.Broker}}</td></tr>
{{if .Network}}<tr><th>Network</th><td>{{.Network.Status}} ({{.Network.Type}}{{if .Network.SSID}}, {{.Network.SSID}}{{end}})</td></tr>
<tr><th>IP</th><td>{{.Network.IP}}</td></tr>{{end}}
</table>

<h2>Event Counts</h2>
<table>
<tr><th>Auto on</th><td>{{.Fan.Counts.AutoOn}}</td></tr>
<tr><th>Manual on</th><td>{{.Fan.Counts.ManualOn}}</td></tr>
<tr><th>Manual off</th><td>{{.Fan.Counts.ManualOff}}</td></tr>
<tr><th>Override</th><td>{{.Fan.Counts.Override}}</td></tr>
<tr><th>Shutoff</th><td>{{.Fan.Counts.Shutoff}}</td></tr>
<tr><th>Deferred</th><td>{{.Fan.Counts.Deferred}}</td></tr>
<tr><th>Invalid readings</th><td>{{.Fan.Counts.InvalidReadings}}</td></tr>
<tr><th>Command failed</th><td>{{.Fan.Counts.CommandFailed}}</td></tr>
</table>

<h2>System</h2>
<table>
<tr><th>Uptime</th><td>{{uptime .Uptime}}</td></tr>
<tr><th>Started</th><td>{{.StartTime.UTC.Format "2006-01-02T15:04:05Z"}}</td></tr>
<tr><th>Actuator</th><td>{{.Config.Actuator}} ({{.Config.Backend}})</td></tr>
<tr><th>Mode</th><td>{{.Config.Mode}}</td></tr>
<tr><th>Delays</th><td>auto {{.Config.AutoDelay}}, manual {{.Config.ManualDelay}}</td></tr>
<tr><th>Heartbeat</th><td>{{if eq .Config.HeartbeatMs 0}}disabled{{else}}{{.Config.HeartbeatMs}}ms{{end}}</td></tr>
<tr><th>HTTP</th><td>{{.Config.HTTPAddr}}</td></tr>
</table>

<p><a href="/index.json">JSON</a> | <a href="/events.json">Events</a></p>
<script>
(function() {
  var dot = document.getElementById("live-dot");
  function setDot(cls, title) {
    dot.className = "live-dot " + cls;
    dot.title = title;
  }
  function text(id, v) {
    document.getElementById(id).textContent = v;
  }
  function connect() {
    var proto = location.protocol === "https:" ? "wss://" : "ws://";
    var ws = new WebSocket(proto + location.host + "/ws");
    ws.onopen = function() { setDot("ok", "live"); };
    ws.onclose = function() {
      setDot("err", "offline");
      setTimeout(connect, 5000);
    };
    ws.onmessage = function(ev) {
      try {
        var s = JSON.parse(ev.data).status;
        text("fan-state", s.state);
        text("fan-enabled", s.enabled ? "enabled" : "disabled");
        text("fan-actuator", s.actuator);
        document.getElementById("fan-actuator").className =
          s.actuator === "on" ? "on" : s.actuator === "off" ? "off" : "unknown";
        if (s.differential !== undefined) {
          text("fan-diff", s.differential.toFixed(3) + (s.readings_valid ? "" : " (stale)"));
        }
        text("fan-auto", s.timers.auto_shutoff ? "in " + s.timers.auto_shutoff.remaining_seconds + "s" : "-");
        text("fan-manual", s.timers.manual_shutoff ? "in " + s.timers.manual_shutoff.remaining_seconds + "s" : "-");
      } catch (e) {}
    };
  }
  connect();
})();
</script>
</body>
</html>
`

func renderHTML(w io.Writer, snap status.Snapshot) error {
	return indexTmpl.Execute(w, snap)
}
