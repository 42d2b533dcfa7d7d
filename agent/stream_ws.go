package agent

import (
	"context"
	"errors"
	"net/http"

	"github.com/guseggert/execagent/agent/job"
	"github.com/julienschmidt/httprouter"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

// StreamMessage is one message on the output stream WebSocket: a single output
// line, or the final message with Done=true carrying the job's terminal
// status, after which the server closes the connection normally.
type StreamMessage struct {
	Line   string
	Done   bool
	Status job.Status
}

// streamOutput upgrades to a WebSocket and relays the job's live output feed.
// Connect while the job is running to see output as it is produced; each
// connection gets the full output from the beginning regardless of when it
// joins.
func (a *Agent) streamOutput(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	id := params.ByName("id")

	// Reject unknown jobs with a plain 404 before upgrading.
	if _, err := a.jobs.Status(id); errors.Is(err, job.ErrNotFound) {
		http.Error(w, "job not found", http.StatusNotFound)
		return
	}

	wsConn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		CompressionMode: websocket.CompressionContextTakeover,
	})
	if err != nil {
		a.logger.Debugf("error accepting WebSocket conn: %s", err)
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	events, err := a.jobs.Follow(ctx, id)
	if err != nil {
		// The job was purged between the check and the follow.
		wsConn.Close(websocket.StatusNormalClosure, "")
		return
	}

	for ev := range events {
		msg := StreamMessage{Line: ev.Line, Done: ev.Done, Status: ev.Status}
		if err := wsjson.Write(ctx, wsConn, msg); err != nil {
			a.logger.Debugf("error writing stream message: %s", err)
			wsConn.Close(websocket.StatusInternalError, err.Error())
			return
		}
	}

	wsConn.Close(websocket.StatusNormalClosure, "")
}
