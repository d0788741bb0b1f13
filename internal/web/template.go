package web

import (
	"fmt"
	"html/template"
	"io"

	"github.com/napd/local-control/internal/telemetry"
)

type indexPage struct {
	Data         telemetry.DataJSON
	SelectedPump int
}

var indexTmpl = template.Must(template.New("index").Funcs(template.FuncMap{
	"fixed": func(v float64) string {
		return fmt.Sprintf("%.1f", v)
	},
	"opt": func(v *float64) string {
		if v == nil {
			return "-"
		}
		return fmt.Sprintf("%.1f", *v)
	},
}).Parse(indexHTML))

const indexHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>Pump Skid</title>
<style>
body { font-family: monospace; max-width: 640px; margin: 2em auto; padding: 0 1em; }
h1 { font-size: 1.4em; }
table { border-collapse: collapse; width: 100%; margin: 1em 0; }
td, th { text-align: left; padding: 4px 8px; border-bottom: 1px solid #ddd; }
th { width: 40%; }
.selected { font-weight: bold; color: green; }
.fault { color: red; font-weight: bold; }
.ok { color: #888; }
.live-dot { display: inline-block; width: 8px; height: 8px; border-radius: 50%; margin-left: 6px; vertical-align: middle; }
.live-dot.ok { background: green; }
.live-dot.err { background: red; }
.live-dot.pending { background: orange; }
</style>
</head>
<body>
<h1>Pump Skid<span id="live-dot" class="live-dot pending" title="connecting"></span></h1>

<h2>Pumps</h2>
<table>
<tr><th>Selected</th><td id="selected-pump" class="selected">Pump {{.SelectedPump}}</td></tr>
<tr><th>Pump 1 state</th><td id="pump-state">{{.Data.Pump.PumpState}}</td></tr>
<tr><th>Pump 1 target rate</th><td id="pump-target_rate">{{fixed .Data.Pump.TargetRate}}</td></tr>
<tr><th>Pump 1 flow rate</th><td id="pump-flow_rate">{{fixed .Data.Pump.FlowRate}}</td></tr>
<tr><th>Pump 2 state</th><td id="pump2-state">{{.Data.Pump2.PumpState}}</td></tr>
<tr><th>Pump 2 target rate</th><td id="pump2-target_rate">{{fixed .Data.Pump2.TargetRate}}</td></tr>
<tr><th>Pump 2 flow rate</th><td id="pump2-flow_rate">{{fixed .Data.Pump2.FlowRate}}</td></tr>
</table>
<p>
<button id="toggle">Toggle selection</button>
<button data-state="pumping">Mark pumping</button>
<button data-state="standby">Mark standby</button>
<span id="notice"></span>
</p>

<h2>Solar</h2>
<table>
<tr><th>Battery voltage</th><td id="solar-battery_voltage">{{fixed .Data.Solar.BatteryVoltage}}</td></tr>
<tr><th>Battery</th><td id="solar-battery_percentage">{{fixed .Data.Solar.BatteryPercentage}}</td></tr>
<tr><th>Panel power</th><td id="solar-panel_power">{{fixed .Data.Solar.PanelPower}}</td></tr>
<tr><th>Battery Ah</th><td id="solar-battery_ah">{{fixed .Data.Solar.BatteryAh}}</td></tr>
</table>

<h2>Skid</h2>
<table>
<tr><th>Tank level (mm)</th><td id="tank-tank_level_mm">{{opt .Data.Tank.LevelMM}}</td></tr>
<tr><th>Tank level (%)</th><td id="tank-tank_level_percent">{{opt .Data.Tank.LevelPercent}}</td></tr>
<tr><th>Flow</th><td id="skid-skid_flow">{{opt .Data.Skid.Flow}}</td></tr>
<tr><th>Pressure</th><td id="skid-skid_pressure">{{opt .Data.Skid.Pressure}}</td></tr>
</table>

<h2>System</h2>
<table>
<tr><th>Status</th><td id="system-status" class="{{if eq .Data.System.Status "fault"}}fault{{else}}ok{{end}}">{{.Data.System.Status}}</td></tr>
<tr><th>HH pressure</th><td id="faults-hh_pressure" class="{{if .Data.Faults.HHPressure}}fault{{else}}ok{{end}}">{{.Data.Faults.HHPressure}}</td></tr>
<tr><th>LL tank level</th><td id="faults-ll_tank_level" class="{{if .Data.Faults.LLTankLevel}}fault{{else}}ok{{end}}">{{.Data.Faults.LLTankLevel}}</td></tr>
<tr><th>Updated</th><td id="system-timestamp">{{.Data.System.Timestamp}}</td></tr>
<tr><th>Heartbeat</th><td id="heartbeat">-</td></tr>
</table>

<p><a href="/api/data">JSON</a></p>
<script>
(function() {
  var dot = document.getElementById("live-dot");
  var notice = document.getElementById("notice");
  var ws;

  function setDot(cls, title) {
    dot.className = "live-dot " + cls;
    dot.title = title;
  }

  function fmt(v) {
    if (v === null || v === undefined) return "-";
    if (typeof v === "number") return v.toFixed(1);
    return String(v);
  }

  function render(data) {
    ["pump", "pump2", "solar", "tank", "skid", "system", "faults"].forEach(function(group) {
      var obj = data[group] || {};
      Object.keys(obj).forEach(function(key) {
        var id = group + "-" + (key === "pump_state" ? "state" : key);
        var el = document.getElementById(id);
        if (!el) return;
        el.textContent = fmt(obj[key]);
        if (group === "faults") el.className = obj[key] ? "fault" : "ok";
        if (id === "system-status") el.className = obj[key] === "fault" ? "fault" : "ok";
      });
    });
  }

  function send(event, data) {
    if (ws && ws.readyState === WebSocket.OPEN) {
      ws.send(JSON.stringify({ event: event, data: data }));
    }
  }

  function connect() {
    var proto = location.protocol === "https:" ? "wss://" : "ws://";
    ws = new WebSocket(proto + location.host + "/ws");
    ws.onopen = function() { setDot("ok", "live"); };
    ws.onclose = function() {
      setDot("err", "offline");
      setTimeout(connect, 5000);
    };
    ws.onmessage = function(ev) {
      try {
        var msg = JSON.parse(ev.data);
        switch (msg.event) {
        case "data_update": render(msg.data); break;
        case "heartbeat": document.getElementById("heartbeat").textContent = msg.data.timestamp; break;
        case "pump_selection_changed":
          document.getElementById("selected-pump").textContent = "Pump " + msg.data.selected_pump;
          break;
        case "pump_selection_toggled":
        case "error":
          notice.textContent = msg.data.message;
          break;
        }
      } catch (e) {}
    };
  }

  document.getElementById("toggle").onclick = function() { send("toggle_selected_pump"); };
  Array.prototype.forEach.call(document.querySelectorAll("button[data-state]"), function(b) {
    b.onclick = function() { send("set_pump_state", { state: b.getAttribute("data-state") }); };
  });
  connect();
})();
</script>
</body>
</html>
`

func renderHTML(w io.Writer, page indexPage) error {
	return indexTmpl.Execute(w, page)
}
