package preview

const indexHTML = `<!doctype html>
<html>
<head>
<meta charset="utf-8">
<title>grabscreen preview</title>
<style>
body { margin: 0; background: #111; color: #ddd; font: 14px sans-serif; }
#stage { position: relative; display: inline-block; }
#view { display: block; max-width: 100vw; max-height: 90vh; }
#cam { position: absolute; border: 2px solid #4af; cursor: move; box-sizing: border-box; }
#grip { position: absolute; right: -6px; bottom: -6px; width: 12px; height: 12px; background: #4af; cursor: nwse-resize; }
#bar { padding: 8px; }
</style>
</head>
<body>
<div id="stage"><img id="view" src="/stream"><div id="cam"><div id="grip"></div></div></div>
<div id="bar">
<button data-cmd="toggle">Overlay</button>
<button data-cmd="pause">Pause</button>
<button data-cmd="resume">Resume</button>
<button data-cmd="stop">Stop</button>
<span id="msg"></span>
</div>
<script>
const view = document.getElementById("view"), cam = document.getElementById("cam");
const grip = document.getElementById("grip"), msg = document.getElementById("msg");
const ws = new WebSocket("ws://" + location.host + "/ws");
const send = (m) => ws.readyState === 1 && ws.send(JSON.stringify(m));
const local = (e) => { const r = view.getBoundingClientRect(); return { x: e.clientX - r.left, y: e.clientY - r.top }; };
const sizeUp = () => send({ type: "container", width: view.clientWidth, height: view.clientHeight });

ws.onopen = sizeUp;
ws.onmessage = (e) => {
  const m = JSON.parse(e.data);
  if (m.type === "error") { msg.textContent = m.error; return; }
  msg.textContent = "";
  cam.style.display = m.visible ? "block" : "none";
  cam.style.left = (m.x || 0) + "px"; cam.style.top = (m.y || 0) + "px";
  cam.style.width = (m.width || 0) + "px"; cam.style.height = (m.height || 0) + "px";
};
view.onload = sizeUp;
window.onresize = sizeUp;

cam.onmousedown = (e) => { e.preventDefault(); send(Object.assign({ type: e.target === grip ? "resize" : "drag" }, local(e))); };
document.onmousemove = (e) => { if (e.buttons) send(Object.assign({ type: "move" }, local(e))); };
document.onmouseup = () => send({ type: "end" });
document.querySelectorAll("button[data-cmd]").forEach(b => b.onclick = () => send({ type: b.dataset.cmd }));
</script>
</body>
</html>
`
