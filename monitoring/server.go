// Package monitoring turns a running hang monitor into a web server, so that
// the components being watched and the alerts raised so far can be inspected
// from outside the process.
package monitoring

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"runtime/pprof"
	"strconv"
	"sync"
	"time"

	// Enable profiling
	_ "net/http/pprof"

	"github.com/google/pprof/profile"
	"github.com/gorilla/mux"
	"github.com/shirou/gopsutil/process"
	"github.com/syifan/goseth"

	"github.com/syniuhin/servo/hangmon"
)

// maxRecentAlerts bounds the alert history kept in memory.
const maxRecentAlerts = 128

// A Server exposes the state of a hang monitor over HTTP. It observes the
// monitor exclusively through hooks, so the monitor goroutine keeps sole
// ownership of the registry.
type Server struct {
	portNumber int

	lock     sync.Mutex
	statuses []hangmon.ComponentStatus
	alerts   []hangmon.Alert
}

// NewServer creates a new Server.
func NewServer() *Server {
	return &Server{}
}

// WithPortNumber sets the port number of the server.
func (s *Server) WithPortNumber(portNumber int) *Server {
	if portNumber < 1000 {
		fmt.Fprintf(os.Stderr,
			"Port number %d is assigned to the monitoring server, "+
				"which is not allowed. Using a random port instead.\n",
			portNumber)
		portNumber = 0
	}

	s.portNumber = portNumber

	return s
}

// RegisterMonitor attaches the server to a monitor. Must be called before
// the monitor starts running.
func (s *Server) RegisterMonitor(m *hangmon.BackgroundHangMonitor) {
	m.AcceptHook(s)
}

// Func consumes the monitor's checkpoint and alert hooks. It runs on the
// monitor goroutine and only copies data out.
func (s *Server) Func(ctx hangmon.HookCtx) {
	switch ctx.Pos {
	case hangmon.HookPosCheckpoint:
		s.lock.Lock()
		s.statuses = ctx.Item.([]hangmon.ComponentStatus)
		s.lock.Unlock()
	case hangmon.HookPosAlert:
		s.lock.Lock()
		s.alerts = append(s.alerts, ctx.Item.(hangmon.Alert))
		if len(s.alerts) > maxRecentAlerts {
			s.alerts = s.alerts[len(s.alerts)-maxRecentAlerts:]
		}
		s.lock.Unlock()
	}
}

// StartServer starts serving the monitor state and returns the port actually
// used.
func (s *Server) StartServer() int {
	r := s.makeRouter()
	http.Handle("/", r)

	listener, err := net.Listen("tcp", s.listenAddr())
	dieOnErr(err)

	port := listener.Addr().(*net.TCPAddr).Port
	fmt.Fprintf(os.Stderr,
		"Monitoring hang detection with http://localhost:%d\n", port)

	go func() {
		err = http.Serve(listener, nil)
		dieOnErr(err)
	}()

	return port
}

// listenAddr honors every port WithPortNumber accepts; anything lower falls
// back to a random port.
func (s *Server) listenAddr() string {
	if s.portNumber >= 1000 {
		return ":" + strconv.Itoa(s.portNumber)
	}

	return ":0"
}

func (s *Server) makeRouter() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/api/components", s.listComponents)
	r.HandleFunc("/api/component/{name}", s.listComponentDetails)
	r.HandleFunc("/api/alerts", s.listAlerts)
	r.HandleFunc("/api/resource", s.listResources)
	r.HandleFunc("/api/profile", s.collectProfile)

	return r
}

func (s *Server) snapshot() []hangmon.ComponentStatus {
	s.lock.Lock()
	defer s.lock.Unlock()

	statuses := make([]hangmon.ComponentStatus, len(s.statuses))
	copy(statuses, s.statuses)

	return statuses
}

func (s *Server) listComponents(w http.ResponseWriter, _ *http.Request) {
	fmt.Fprint(w, "[")
	for i, status := range s.snapshot() {
		if i > 0 {
			fmt.Fprint(w, ",")
		}

		fmt.Fprintf(w, "%q", string(status.Component))
	}
	fmt.Fprint(w, "]")
}

func (s *Server) listComponentDetails(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	status := s.findComponentOr404(w, name)
	if status == nil {
		return
	}

	serializer := goseth.NewSerializer()
	serializer.SetRoot(status)
	serializer.SetMaxDepth(1)
	err := serializer.Serialize(w)

	dieOnErr(err)
}

func (s *Server) findComponentOr404(
	w http.ResponseWriter,
	name string,
) *hangmon.ComponentStatus {
	for _, status := range s.snapshot() {
		if string(status.Component) == name {
			return &status
		}
	}

	w.WriteHeader(http.StatusNotFound)
	_, err := w.Write([]byte("Component not found"))
	dieOnErr(err)

	return nil
}

func (s *Server) listAlerts(w http.ResponseWriter, _ *http.Request) {
	s.lock.Lock()
	alerts := make([]hangmon.Alert, len(s.alerts))
	copy(alerts, s.alerts)
	s.lock.Unlock()

	bytes, err := json.Marshal(alerts)
	dieOnErr(err)

	_, err = w.Write(bytes)
	dieOnErr(err)
}

type resourceRsp struct {
	CPUPercent float64 `json:"cpu_percent"`
	MemorySize uint64  `json:"memory_size"`
}

func (s *Server) listResources(w http.ResponseWriter, _ *http.Request) {
	pid := os.Getpid()
	process, err := process.NewProcess(int32(pid))
	dieOnErr(err)

	cpuPercent, err := process.CPUPercent()
	dieOnErr(err)

	memorySize, err := process.MemoryInfo()
	dieOnErr(err)

	rsp := resourceRsp{
		CPUPercent: cpuPercent,
		MemorySize: memorySize.RSS,
	}

	bytes, err := json.Marshal(rsp)
	dieOnErr(err)

	_, err = w.Write(bytes)
	dieOnErr(err)
}

func (s *Server) collectProfile(w http.ResponseWriter, _ *http.Request) {
	buf := bytes.NewBuffer(nil)

	err := pprof.StartCPUProfile(buf)
	dieOnErr(err)

	time.Sleep(time.Second)

	pprof.StopCPUProfile()

	prof, err := profile.ParseData(buf.Bytes())
	dieOnErr(err)

	bytes, err := json.Marshal(prof)
	dieOnErr(err)

	_, err = w.Write(bytes)
	dieOnErr(err)
}

func dieOnErr(err error) {
	if err != nil {
		log.Panic(err)
	}
}
