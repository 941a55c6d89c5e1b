package dashboard

import "html/template"

// indexPage is the data behind the index template.
type indexPage struct {
	Snapshot
	Commands bool
}

var indexTmpl = template.Must(template.New("index").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>trafficwatch</title>
<style>
*{margin:0;padding:0;box-sizing:border-box}
:root{
  --bg:#0a0a0f;--surface:#12121a;--surface2:#1a1a26;--border:#2a2a3a;
  --text:#e0e0ee;--text2:#8888aa;--text3:#555570;
  --accent:#6366f1;--accent-light:#818cf8;
  --danger:#ef4444;--success:#22c55e;--warn:#f59e0b;
  --mono:'SF Mono','Fira Code','JetBrains Mono',monospace;
  --sans:-apple-system,BlinkMacSystemFont,'Segoe UI',Roboto,sans-serif;
}
body{font-family:var(--sans);background:var(--bg);color:var(--text);padding:32px}
h1{font-family:var(--mono);font-size:1.3rem;margin-bottom:20px}
h1 span{color:var(--accent-light)}
.bar{display:flex;gap:12px;flex-wrap:wrap;margin-bottom:20px}
.card{background:var(--surface);border:1px solid var(--border);border-radius:10px;padding:14px 18px;min-width:150px}
.card .k{color:var(--text2);font-size:0.75rem;text-transform:uppercase;letter-spacing:0.5px}
.card .v{font-family:var(--mono);font-size:1.3rem;margin-top:4px}
.ddos{color:var(--danger)}.normal{color:var(--success)}.pending{color:var(--warn)}
button{background:var(--surface2);color:var(--text);border:1px solid var(--border);border-radius:6px;padding:8px 14px;cursor:pointer;font-size:0.85rem}
button:hover{border-color:var(--accent)}
button:disabled{opacity:0.4;cursor:default}
table{width:100%;border-collapse:collapse;background:var(--surface);border:1px solid var(--border);border-radius:10px;overflow:hidden}
th,td{padding:8px 12px;text-align:left;font-size:0.85rem;border-bottom:1px solid var(--border)}
th{color:var(--text2);font-weight:500}
td{font-family:var(--mono)}
#notices{margin-top:16px;color:var(--danger);font-family:var(--mono);font-size:0.8rem}
#commands{margin-top:16px;color:var(--text2);font-family:var(--mono);font-size:0.8rem}
#commands .failed{color:var(--danger)}
</style>
</head>
<body>
<h1>traffic<span>watch</span></h1>

<div class="bar">
  <div class="card"><div class="k">Tick</div><div class="v" id="tick">{{printf "%.1f" .Tick}}</div></div>
  <div class="card"><div class="k">Normal</div><div class="v normal" id="normal">{{.Tally.Normal}}</div></div>
  <div class="card"><div class="k">DDoS</div><div class="v ddos" id="ddos">{{.Tally.DDoS}}</div></div>
  <div class="card"><div class="k">Mitigation</div><div class="v" id="mitigation">{{.Mitigation}}</div></div>
  <div class="card"><div class="k">Simulation</div><div class="v" id="simulation">{{.Simulation}}</div></div>
</div>

<div class="bar">
  <button onclick="act('/api/simulation/start?type=normal')">Start normal</button>
  <button onclick="act('/api/simulation/start?type=ddos')">Start DDoS</button>
  <button onclick="act('/api/simulation/stop')">Stop</button>
  <button onclick="act('/api/neutralize')">Neutralize</button>
  <button onclick="act('/api/mitigation/toggle')">Toggle mitigation</button>
</div>

<table>
  <thead><tr><th>Tick</th><th>Protocol</th><th>Src bytes</th><th>Dst bytes</th><th>Label</th><th>Score</th><th>Source</th><th></th></tr></thead>
  <tbody id="events"></tbody>
</table>
<div id="notices"></div>
<div id="commands"></div>

<script>
function act(path){fetch(path,{method:'POST'}).then(r=>r.json()).then(d=>{if(d.snapshot)render(d.snapshot)})}
function esc(s){return String(s).replace(/[&<>"]/g,c=>({'&':'&amp;','<':'&lt;','>':'&gt;','"':'&quot;'}[c]))}
function render(s){
  document.getElementById('tick').textContent=s.tick.toFixed(1);
  document.getElementById('normal').textContent=s.tally.Normal;
  document.getElementById('ddos').textContent=s.tally.DDoS;
  const m=document.getElementById('mitigation');
  m.textContent=(s.mitigationEnabled?'Enabled':'Disabled')+(s.mitigationPending?' (pending)':'');
  m.className='v'+(s.mitigationPending?' pending':'');
  const b=s.backend||{};
  document.getElementById('simulation').textContent=b.running===undefined?'unknown':(b.running?'running'+(b.type?' ('+b.type+')':''):'stopped');
  document.getElementById('events').innerHTML=(s.events||[]).map(e=>
    '<tr><td>'+e.tick.toFixed(1)+'</td><td>'+esc(e.protocolType)+'</td><td>'+e.srcBytes+'</td><td>'+e.dstBytes+
    '</td><td class="'+(e.label==='DDoS'?'ddos':'normal')+'">'+esc(e.label)+'</td><td>'+e.score.toFixed(3)+
    '</td><td>'+esc(e.srcIp||'-')+'</td><td><button '+(e.blocked||!e.srcIp?'disabled ':'')+'onclick="act(\'/api/block/'+e.tick+'\')">'+
    (e.blocked?(e.blockConfirmed?'Blocked':'Blocking'):'Block')+'</button></td></tr>').join('');
  document.getElementById('notices').innerHTML=(s.notices||[]).map(n=>'<div>ERROR: '+esc(n.message)+'</div>').join('');
}
new EventSource('/api/events').addEventListener('snapshot',ev=>render(JSON.parse(ev.data)));
{{if .Commands}}new EventSource('/api/commands').addEventListener('command',ev=>{
  const c=JSON.parse(ev.data),d=document.createElement('div');
  d.className=c.status;
  d.textContent=c.timestamp+' '+c.command+' '+(c.payload||'')+' '+c.status+(c.error?': '+c.error:'');
  const box=document.getElementById('commands');
  box.prepend(d);
  while(box.children.length>20)box.lastChild.remove();
});{{end}}
</script>
</body>
</html>
`))
