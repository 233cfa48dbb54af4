package vaultlink

import (
	"html/template"
)

// The callback page posts its envelope back to the loopback server, which
// hands it to the Dispatcher. The browser sets the Origin header on the
// fetch, so only pages served by this server are trusted.
var callbackPage = template.Must(template.New("callback").Parse(`<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>{{.Title}}</title></head>
<body>
  <p id="status">Completing {{.Title}}...</p>
  <script>
    const envelope = {{.Envelope}};
    fetch("/messages", {
      method: "POST",
      headers: {"Content-Type": "application/json"},
      body: JSON.stringify(envelope)
    }).then(function (resp) {
      document.getElementById("status").textContent = resp.ok
        ? "Done. You can close this window."
        : "This link attempt is no longer active. You can close this window.";
      if (resp.ok) { setTimeout(function () { window.close(); }, 500); }
    });
  </script>
</body>
</html>
`))

var telegramPage = template.Must(template.New("telegram").Parse(`<!DOCTYPE html>
<html>
<head>
  <meta charset="utf-8">
  <title>Telegram Login</title>
  <style>
    body { font-family: sans-serif; display: flex; justify-content: center; margin-top: 80px; }
    .container { text-align: center; }
    p { color: #6D6D72; }
  </style>
</head>
<body>
  <div class="container">
    <h2>Connect with Telegram</h2>
    <p>Sign in securely using your Telegram account</p>
    <script async src="https://telegram.org/js/telegram-widget.js?22"
      data-telegram-login="{{.BotUsername}}"
      data-size="large"
      data-radius="8"
      data-onauth="onTelegramAuth(user)"
      data-request-access="write">
    </script>
  </div>
  <script>
    function onTelegramAuth(user) {
      fetch("/messages", {
        method: "POST",
        headers: {"Content-Type": "application/json"},
        body: JSON.stringify({type: {{.Kind}}, payload: {auth_data: user}})
      }).then(function () { setTimeout(function () { window.close(); }, 500); });
    }
  </script>
</body>
</html>
`))

type callbackPageData struct {
	Title    string
	Envelope Envelope
}

type telegramPageData struct {
	BotUsername string
	Kind        string
}
