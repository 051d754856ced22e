package httpout

import (
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/hlsget/hlsget/htypes"
)

type Config struct {
	HttpHost string
	HttpPort int

	StreamPath   string
	PlaylistPath string
}

func NewConfig() Config {
	return Config{
		HttpHost:     "127.0.0.1",
		HttpPort:     8088,
		StreamPath:   "/stream",
		PlaylistPath: "/playlist.m3u8",
	}
}

func LogHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logrus.Debugf("req: %+v, map: %+v", r.RequestURI, mux.Vars(r))
		next.ServeHTTP(w, r)
	})
}

// Server exposes one running stream over a local HTTP port, for
// players that take a URL rather than a pipe. OpenStream is called
// per /stream request; only one consumer may hold the stream at a
// time.
type Server struct {
	config     Config
	httpServer *http.Server
	httpRouter *mux.Router
	listener   net.Listener

	OpenStream func() (io.ReadCloser, error)

	m    sync.Mutex
	busy bool
}

func NewServer(config Config) (*Server, error) {
	s := &Server{
		config: config,
	}

	router := mux.NewRouter()
	router.HandleFunc(config.StreamPath, s.handleStream).Methods(http.MethodGet)
	router.HandleFunc(config.PlaylistPath, s.handlePlaylist).Methods(http.MethodGet)
	s.httpRouter = router
	s.httpServer = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", config.HttpHost, config.HttpPort),
		Handler: LogHandler(router),
	}

	return s, nil
}

func (s *Server) Listen() error {
	listener, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return errors.Wrapf(err, "cannot listen %s", s.httpServer.Addr)
	}
	s.listener = listener
	return nil
}

func (s *Server) Serve() error {
	if s.listener == nil {
		return errors.New("not listening")
	}
	err := s.httpServer.Serve(s.listener)
	if err == http.ErrServerClosed {
		return nil
	}
	return errors.Wrap(err, "cannot serve http output")
}

func (s *Server) Stop() error {
	return s.httpServer.Close()
}

// URL returns the address players should open.
func (s *Server) URL() string {
	addr := s.httpServer.Addr
	if s.listener != nil {
		addr = s.listener.Addr().String()
	}
	return fmt.Sprintf("http://%s%s", addr, s.config.StreamPath)
}

func (s *Server) acquire() bool {
	s.m.Lock()
	defer s.m.Unlock()
	if s.busy {
		return false
	}
	s.busy = true
	return true
}

func (s *Server) release() {
	s.m.Lock()
	defer s.m.Unlock()
	s.busy = false
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	if s.OpenStream == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	if !s.acquire() {
		htypes.Stat(true, "http_out", "busy", r.RemoteAddr)
		w.WriteHeader(http.StatusConflict)
		return
	}
	defer s.release()

	stream, err := s.OpenStream()
	if err != nil {
		logrus.Errorf("Cannot open stream: %+v", err)
		w.WriteHeader(http.StatusBadGateway)
		return
	}
	defer stream.Close()

	w.Header().Set("Content-Type", "video/mp2t")
	w.WriteHeader(http.StatusOK)

	n, err := io.Copy(w, stream)
	htypes.Stat(err != nil, "http_out", "served", htypes.TimeToStat(0))
	logrus.WithField("remote", r.RemoteAddr).Infof("Served %d stream bytes: %v", n, err)
}

// handlePlaylist answers with a single-entry playlist pointing at the
// stream path, for players that only accept .m3u8 URLs.
func (s *Server) handlePlaylist(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/vnd.apple.mpegurl")
	fmt.Fprintf(w, "#EXTM3U\n#EXT-X-TARGETDURATION:10\n#EXTINF:10.000,\n%s\n#EXT-X-ENDLIST\n", s.config.StreamPath)
}
