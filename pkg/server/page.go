package server

import "html/template"

var indexTmpl = template.Must(template.New("index").Parse(indexHTML))

const indexHTML = `<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <title>pgfan chat demo</title>
    <style>
        body {
            font-family: system-ui, -apple-system, sans-serif;
            max-width: 600px;
            margin: 40px auto;
            padding: 20px;
            background: #f5f5f5;
        }
        h1 { color: #333; text-align: center; }
        #messages {
            background: white;
            border-radius: 8px;
            padding: 20px;
            min-height: 300px;
            max-height: 500px;
            overflow-y: auto;
            margin-bottom: 20px;
            box-shadow: 0 2px 4px rgba(0,0,0,0.1);
        }
        .message {
            padding: 10px;
            margin: 8px 0;
            background: #f0f0f0;
            border-radius: 4px;
        }
        form { display: flex; gap: 10px; }
        input[type="text"] {
            flex: 1;
            padding: 12px;
            border: 1px solid #ddd;
            border-radius: 4px;
            font-size: 16px;
        }
        button {
            padding: 12px 24px;
            background: #3b82f6;
            color: white;
            border: none;
            border-radius: 4px;
            cursor: pointer;
            font-size: 16px;
        }
        button:hover { background: #2563eb; }
    </style>
</head>
<body>
    <h1>pgfan chat demo</h1>
    <div id="messages">{{range .Messages}}<div class="message">{{.Text}}</div>{{end}}</div>
    <form method="POST" action="/messages">
        <input type="text" name="text" placeholder="Type a message..." required autofocus>
        <button type="submit">Send</button>
    </form>

    <script>
        // live updates over server-sent events; each frame carries the
        // CDC payload of one accepted change
        const evtSource = new EventSource('/events');

        evtSource.addEventListener('message', function(event) {
            const payload = JSON.parse(event.data);
            if (payload.op !== 'c' || !payload.after || !payload.after.text) {
                return;
            }
            const messagesDiv = document.getElementById('messages');
            const messageDiv = document.createElement('div');
            messageDiv.className = 'message';
            messageDiv.textContent = payload.after.text;
            messagesDiv.appendChild(messageDiv);
            messagesDiv.scrollTop = messagesDiv.scrollHeight;
        });

        evtSource.onerror = function() {
            console.error('EventSource failed, reconnecting...');
        };

        // submit via fetch to avoid a page reload; the new message arrives
        // through the event stream, not the form response
        const form = document.querySelector('form');
        const input = document.querySelector('input[name="text"]');

        form.addEventListener('submit', async function(e) {
            e.preventDefault();

            const text = input.value.trim();
            if (!text) return;

            await fetch('/messages', {
                method: 'POST',
                headers: { 'Content-Type': 'application/x-www-form-urlencoded' },
                body: 'text=' + encodeURIComponent(text)
            });

            input.value = '';
            input.focus();
        });
    </script>
</body>
</html>`
