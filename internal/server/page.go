package server

import (
	"fmt"
	"net/http"
)

// handleTestPage serves a small browser client: pick a room, stream it over
// SSE or WebSocket, and post messages as a guest or with a token.
func (s *Server) handleTestPage(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if _, err := fmt.Fprint(w, testPageHTML); err != nil {
		requestLogger(r, s.log).WithError(err).Debug("Error writing HTML response")
	}
}

const testPageHTML = `<!DOCTYPE html>
<html>
<head>
    <title>roomchat</title>
    <style>
        body { font-family: Arial, sans-serif; margin: 20px; }
        #messages {
            border: 1px solid #ccc;
            height: 300px;
            padding: 10px;
            overflow-y: scroll;
            margin: 10px 0;
            background-color: #f9f9f9;
        }
        input[type="text"], input[type="number"] { padding: 5px; margin-right: 10px; }
        #messageInput { width: 300px; }
        button {
            padding: 5px 15px;
            background-color: #007cba;
            color: white;
            border: none;
            cursor: pointer;
        }
        button:hover { background-color: #005a87; }
        .status { margin: 10px 0; padding: 5px; border-radius: 3px; }
        .connected { background-color: #d4edda; color: #155724; }
        .disconnected { background-color: #f8d7da; color: #721c24; }
    </style>
</head>
<body>
    <h1>roomchat</h1>

    <div>
        <label>Chat <input type="number" id="chatInput" value="1" min="1"></label>
        <label>Token <input type="text" id="tokenInput" placeholder="optional bearer token"></label>
        <label><input type="checkbox" id="anonInput"> anonymous</label>
    </div>

    <div id="status" class="status disconnected">Disconnected</div>

    <div>
        <input type="text" id="messageInput" placeholder="Type a message..." disabled>
        <button id="sendButton" onclick="sendMessage()" disabled>Send</button>
        <button onclick="connect('sse')">Stream (SSE)</button>
        <button onclick="connect('ws')">Socket (WebSocket)</button>
        <button onclick="disconnect()">Disconnect</button>
    </div>

    <div id="messages"></div>

    <script>
        let source = null;
        let ws = null;
        const messagesDiv = document.getElementById('messages');
        const messageInput = document.getElementById('messageInput');
        const sendButton = document.getElementById('sendButton');
        const statusDiv = document.getElementById('status');

        function chatId() { return parseInt(document.getElementById('chatInput').value, 10) || 1; }
        function token() { return document.getElementById('tokenInput').value.trim(); }
        function anonymous() { return document.getElementById('anonInput').checked; }

        function addLine(text, color) {
            const el = document.createElement('div');
            el.style.margin = '5px 0';
            el.style.color = color || 'gray';
            el.textContent = text;
            messagesDiv.appendChild(el);
            messagesDiv.scrollTop = messagesDiv.scrollHeight;
        }

        function showMessage(m) {
            addLine('[' + new Date(m.timestamp).toLocaleTimeString() + '] ' + m.sender + ': ' + m.content, 'green');
        }

        function updateStatus(text, connected) {
            statusDiv.textContent = text;
            statusDiv.className = 'status ' + (connected ? 'connected' : 'disconnected');
            messageInput.disabled = !connected;
            sendButton.disabled = !connected;
        }

        async function loadHistory() {
            const res = await fetch('/messages?chat_id=' + chatId());
            if (!res.ok) { addLine('History unavailable: ' + res.status); return; }
            (await res.json()).forEach(showMessage);
        }

        async function connect(kind) {
            disconnect();
            messagesDiv.innerHTML = '';
            await loadHistory();
            const q = 'chat_id=' + chatId() + (token() ? '&token=' + encodeURIComponent(token()) : '');
            if (kind === 'sse') {
                source = new EventSource('/events?' + q);
                source.addEventListener('connected', () => updateStatus('Streaming chat ' + chatId() + ' (SSE)', true));
                source.onmessage = (e) => showMessage(JSON.parse(e.data));
                source.onerror = () => addLine('Stream interrupted, retrying...');
                return;
            }
            const scheme = location.protocol === 'https:' ? 'wss://' : 'ws://';
            ws = new WebSocket(scheme + location.host + '/ws?' + q);
            ws.onmessage = (e) => {
                const frame = JSON.parse(e.data);
                if (frame.type === 'connected') updateStatus('Connected to chat ' + chatId() + ' (WebSocket)', true);
                else if (frame.type === 'message') showMessage(frame.data);
                else if (frame.type === 'error') addLine('Error: ' + frame.data.error, 'red');
            };
            ws.onclose = (e) => { addLine('Connection closed' + (e.reason ? ': ' + e.reason : '')); updateStatus('Disconnected', false); ws = null; };
        }

        function disconnect() {
            if (source) { source.close(); source = null; }
            if (ws) { ws.close(); ws = null; }
            updateStatus('Disconnected', false);
        }

        async function sendMessage() {
            const content = messageInput.value.trim();
            if (!content) return;
            messageInput.value = '';
            if (ws && ws.readyState === WebSocket.OPEN) {
                ws.send(JSON.stringify({content: content, is_anonymous: anonymous()}));
                return;
            }
            const headers = {'Content-Type': 'application/json'};
            if (token()) headers['Authorization'] = 'Bearer ' + token();
            const res = await fetch('/send_message', {
                method: 'POST',
                headers: headers,
                body: JSON.stringify({content: content, chat_id: chatId(), is_anonymous: anonymous()}),
            });
            if (!res.ok) addLine('Send failed: ' + (await res.json()).detail, 'red');
        }

        messageInput.addEventListener('keypress', function(e) {
            if (e.key === 'Enter') {
                sendMessage();
            }
        });
    </script>
</body>
</html>`
