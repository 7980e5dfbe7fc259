package livereload

import (
	"net/http"
)

const clientScript = `(function () {
  var scheme = location.protocol === "https:" ? "wss://" : "ws://";
  var delay = 500;
  function connect() {
    var ws = new WebSocket(scheme + location.host + "` + SocketPath + `");
    ws.onopen = function () { delay = 500; };
    ws.onmessage = function (event) {
      var msg = JSON.parse(event.data);
      if (msg.type === "reload") { location.reload(); }
    };
    ws.onclose = function () {
      setTimeout(connect, delay);
      delay = Math.min(delay * 2, 10000);
    };
  }
  connect();
})();
`

// ScriptHandler serves the browser side of live reload.
func ScriptHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/javascript; charset=utf-8")
		w.Header().Set("Cache-Control", "no-cache")
		_, _ = w.Write([]byte(clientScript))
	})
}
