package main

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/charmbracelet/bubbletea"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// errUnknownTrack is returned when a remote asks for a track not in the playlist
var errUnknownTrack = errors.New("unknown track")

// remoteTimeout bounds how long a request waits for the event loop
const remoteTimeout = 2 * time.Second

type remoteAction int

const (
	remoteToggle remoteAction = iota
	remoteNext
	remotePrevious
	remoteSeek
	remoteVolume
	remoteSelect
)

// remoteMsg is an intent from the remote API, applied on the event loop
type remoteMsg struct {
	action remoteAction
	value  float64
	id     string
	reply  chan<- remoteReply
}

type remoteReply struct {
	snapshot Snapshot
	err      error
}

// sender posts messages to the event loop; *tea.Program implements it
type sender interface {
	Send(tea.Msg)
}

type wsClient struct {
	conn *websocket.Conn
	send chan Snapshot
}

// Remote serves the session over HTTP and pushes snapshots over websockets
type Remote struct {
	sender   sender
	playlist *Playlist
	engine   *gin.Engine
	timeout  time.Duration
	upgrader websocket.Upgrader

	mu      sync.Mutex
	latest  Snapshot
	clients map[*wsClient]struct{}
	srv     *http.Server
}

// NewRemote creates the remote API. Intents are posted through s.
func NewRemote(s sender, playlist *Playlist) *Remote {
	r := &Remote{
		sender:   s,
		playlist: playlist,
		timeout:  remoteTimeout,
		clients:  make(map[*wsClient]struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}

	gin.SetMode(gin.ReleaseMode)
	e := gin.New()
	e.Use(gin.LoggerWithWriter(log.Writer()), gin.Recovery())

	api := e.Group("/api")
	api.GET("/session", func(c *gin.Context) {
		c.JSON(http.StatusOK, r.Latest())
	})
	api.GET("/tracks", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"tracks":   r.playlist.Tracks(),
			"selected": r.playlist.Index(),
		})
	})
	api.POST("/session/toggle", r.intent(remoteToggle))
	api.POST("/session/next", r.intent(remoteNext))
	api.POST("/session/previous", r.intent(remotePrevious))
	api.POST("/session/seek", func(c *gin.Context) {
		var body struct {
			Percent *float64 `json:"percent" binding:"required"`
		}
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		r.dispatch(c, remoteMsg{action: remoteSeek, value: *body.Percent})
	})
	api.POST("/session/volume", func(c *gin.Context) {
		var body struct {
			Level *float64 `json:"level" binding:"required"`
		}
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		r.dispatch(c, remoteMsg{action: remoteVolume, value: *body.Level})
	})
	api.POST("/session/select", func(c *gin.Context) {
		var body struct {
			ID string `json:"id" binding:"required"`
		}
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		r.dispatch(c, remoteMsg{action: remoteSelect, id: body.ID})
	})
	e.GET("/ws", r.serveWS)

	r.engine = e
	return r
}

// Handler returns the HTTP handler serving the API
func (r *Remote) Handler() http.Handler {
	return r.engine
}

func (r *Remote) intent(action remoteAction) gin.HandlerFunc {
	return func(c *gin.Context) {
		r.dispatch(c, remoteMsg{action: action})
	}
}

// dispatch posts msg to the event loop and answers with the resulting snapshot
func (r *Remote) dispatch(c *gin.Context, msg remoteMsg) {
	reply := make(chan remoteReply, 1)
	msg.reply = reply
	// Send blocks until the event loop takes the message
	go r.sender.Send(msg)

	select {
	case rep := <-reply:
		switch {
		case errors.Is(rep.err, errUnknownTrack):
			c.JSON(http.StatusNotFound, gin.H{"error": rep.err.Error()})
		case rep.err != nil:
			c.JSON(http.StatusBadGateway, gin.H{"error": rep.err.Error()})
		default:
			c.JSON(http.StatusOK, rep.snapshot)
		}
	case <-time.After(r.timeout):
		c.JSON(http.StatusGatewayTimeout, gin.H{"error": "player did not respond"})
	case <-c.Request.Context().Done():
	}
}

// Latest returns the most recently published snapshot
func (r *Remote) Latest() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.latest
}

// Publish records snap and queues it for every websocket client. Slow
// clients only ever receive the newest snapshot.
func (r *Remote) Publish(snap Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.latest = snap
	for c := range r.clients {
		select {
		case c.send <- snap:
		default:
			select {
			case <-c.send:
			default:
			}
			c.send <- snap
		}
	}
}

func (r *Remote) serveWS(c *gin.Context) {
	conn, err := r.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("level=warn msg=\"websocket upgrade failed\" err=%q", err)
		return
	}

	client := &wsClient{conn: conn, send: make(chan Snapshot, 1)}
	r.mu.Lock()
	r.clients[client] = struct{}{}
	client.send <- r.latest
	r.mu.Unlock()

	go func() {
		for snap := range client.send {
			conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := conn.WriteJSON(snap); err != nil {
				log.Printf("level=warn msg=\"websocket write failed\" err=%q", err)
				conn.Close()
				return
			}
		}
	}()

	// Read until the client goes away
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	r.mu.Lock()
	delete(r.clients, client)
	close(client.send)
	r.mu.Unlock()
	conn.Close()
}

// Start listens on addr and serves in the background
func (r *Remote) Start(addr string) (net.Addr, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	srv := &http.Server{Handler: r.engine, ReadHeaderTimeout: 5 * time.Second}
	r.mu.Lock()
	r.srv = srv
	r.mu.Unlock()

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("level=error msg=\"remote server stopped\" err=%q", err)
		}
	}()
	log.Printf("level=info msg=\"remote listening\" addr=%s", ln.Addr())
	return ln.Addr(), nil
}

// Close stops the server and disconnects websocket clients
func (r *Remote) Close() error {
	r.mu.Lock()
	srv := r.srv
	for c := range r.clients {
		c.conn.Close()
	}
	r.mu.Unlock()

	if srv == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return srv.Shutdown(ctx)
}
