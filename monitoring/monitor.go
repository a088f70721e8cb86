// Package monitoring exposes the controller state over HTTP for the web
// dashboard. The core entities are serialized into the loosely-typed form
// the dashboard consumes only at this boundary.
package monitoring

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"runtime/pprof"
	"strconv"
	"time"

	// Enable profiling
	_ "net/http/pprof"

	"github.com/google/pprof/profile"
	"github.com/gorilla/mux"
	"github.com/pkg/browser"
	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/process"
	"github.com/syifan/goseth"

	"github.com/koenenwmn/fail-operational-noc-demonstrator/ctrlmod"
	"github.com/koenenwmn/fail-operational-noc-demonstrator/gateway"
)

// Monitor turns a running controller into a small web server for the
// dashboard.
type Monitor struct {
	ctrl *ctrlmod.Client
	gw   *gateway.Gateway
	log  zerolog.Logger

	portNumber  int
	openBrowser bool
}

// NewMonitor creates a new Monitor.
func NewMonitor(log zerolog.Logger) *Monitor {
	return &Monitor{
		log: log.With().Str("module", "monitoring").Logger(),
	}
}

// WithPortNumber sets the port the server listens on. Ports below 1000
// are rejected and a random port is used instead.
func (m *Monitor) WithPortNumber(portNumber int) *Monitor {
	if portNumber < 1000 {
		m.log.Warn().
			Int("port", portNumber).
			Msg("port not allowed, using a random port")
		portNumber = 0
	}

	m.portNumber = portNumber

	return m
}

// WithBrowser opens the dashboard in the local browser once the server is
// up.
func (m *Monitor) WithBrowser() *Monitor {
	m.openBrowser = true
	return m
}

// RegisterController attaches the control-module client to be monitored.
func (m *Monitor) RegisterController(c *ctrlmod.Client) {
	m.ctrl = c
}

// RegisterGateway attaches the gateway to be monitored.
func (m *Monitor) RegisterGateway(g *gateway.Gateway) {
	m.gw = g
}

// StartServer starts the monitor in a background goroutine.
func (m *Monitor) StartServer() error {
	r := mux.NewRouter()
	r.HandleFunc("/api/channels", m.listChannels)
	r.HandleFunc("/api/paths", m.listPaths)
	r.HandleFunc("/api/faults", m.listFaults)
	r.HandleFunc("/api/reservations/{node}", m.listReservations)
	r.HandleFunc("/api/resource", m.listResources)
	r.HandleFunc("/api/state/{name}", m.dumpState)
	r.HandleFunc("/api/profile", m.collectProfile)
	http.Handle("/", r)

	actualPort := ":0"
	if m.portNumber > 1000 {
		actualPort = ":" + strconv.Itoa(m.portNumber)
	}

	listener, err := net.Listen("tcp", actualPort)
	if err != nil {
		return fmt.Errorf("monitoring: listen: %w", err)
	}

	url := fmt.Sprintf("http://localhost:%d",
		listener.Addr().(*net.TCPAddr).Port)
	m.log.Info().Str("url", url).Msg("monitoring server started")

	go func() {
		if err := http.Serve(listener, nil); err != nil {
			m.log.Error().Err(err).Msg("monitoring server stopped")
		}
	}()

	if m.openBrowser {
		if err := browser.OpenURL(url); err != nil {
			m.log.Warn().Err(err).Msg("cannot open browser")
		}
	}

	return nil
}

func (m *Monitor) listChannels(w http.ResponseWriter, _ *http.Request) {
	m.writeJSON(w, m.ctrl.Channels())
}

func (m *Monitor) listPaths(w http.ResponseWriter, _ *http.Request) {
	m.writeJSON(w, m.ctrl.Paths())
}

func (m *Monitor) listFaults(w http.ResponseWriter, _ *http.Request) {
	m.writeJSON(w, m.ctrl.FaultVector())
}

// listReservations dumps the occupied slots of one node's tables. Query
// parameters select the table family (ni=0|1) and the port.
func (m *Monitor) listReservations(w http.ResponseWriter, r *http.Request) {
	node, err := strconv.Atoi(mux.Vars(r)["node"])
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	ni := r.URL.Query().Get("ni") == "1"
	port := 0
	if p := r.URL.Query().Get("port"); p != "" {
		port, err = strconv.Atoi(p)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
	}

	m.writeJSON(w, m.ctrl.Reservations(node, ni, port))
}

type resourceRsp struct {
	CPUPercent float64 `json:"cpu_percent"`
	MemorySize uint64  `json:"memory_size"`
}

func (m *Monitor) listResources(w http.ResponseWriter, _ *http.Request) {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		m.httpError(w, err)
		return
	}

	cpuPercent, err := proc.CPUPercent()
	if err != nil {
		m.httpError(w, err)
		return
	}

	memoryInfo, err := proc.MemoryInfo()
	if err != nil {
		m.httpError(w, err)
		return
	}

	m.writeJSON(w, resourceRsp{
		CPUPercent: cpuPercent,
		MemorySize: memoryInfo.RSS,
	})
}

func (m *Monitor) dumpState(w http.ResponseWriter, r *http.Request) {
	var root any
	switch mux.Vars(r)["name"] {
	case "ctrlmod":
		root = m.ctrl
	case "gateway":
		root = m.gw
	default:
		w.WriteHeader(http.StatusNotFound)
		return
	}

	serializer := goseth.NewSerializer()
	serializer.SetRoot(root)
	serializer.SetMaxDepth(1)
	if err := serializer.Serialize(w); err != nil {
		m.httpError(w, err)
	}
}

func (m *Monitor) collectProfile(w http.ResponseWriter, _ *http.Request) {
	buf := bytes.NewBuffer(nil)

	if err := pprof.StartCPUProfile(buf); err != nil {
		m.httpError(w, err)
		return
	}

	time.Sleep(time.Second)
	pprof.StopCPUProfile()

	prof, err := profile.ParseData(buf.Bytes())
	if err != nil {
		m.httpError(w, err)
		return
	}

	m.writeJSON(w, prof)
}

func (m *Monitor) writeJSON(w http.ResponseWriter, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		m.httpError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if _, err := w.Write(data); err != nil {
		m.log.Error().Err(err).Msg("write response")
	}
}

func (m *Monitor) httpError(w http.ResponseWriter, err error) {
	m.log.Error().Err(err).Msg("request failed")
	w.WriteHeader(http.StatusInternalServerError)
}
