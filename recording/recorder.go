// Package recording persists inbound NoC telemetry (link faults and link
// utilization) into a SQLite database for offline analysis. It plugs into
// the control-module client's telemetry handler slots.
package recording

import (
	"database/sql"
	"fmt"
	"os"
	"time"

	// Need to use SQLite connections.
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/xid"
	"github.com/rs/zerolog"
	"github.com/tebeka/atexit"
)

// FaultRecord is one decoded fault-detection report for a single node.
type FaultRecord struct {
	Timestamp int64
	Node      int
	Mask      uint8
}

// UtilRecord is one reassembled utilization counter for a single link.
type UtilRecord struct {
	Timestamp int64
	Node      int
	Link      int
	TDM       bool
	Cycles    uint32
}

// Recorder decodes telemetry events and buffers them for batched writes.
// Flush is registered with atexit so a terminating run loses nothing.
type Recorder struct {
	db       *sql.DB
	log      zerolog.Logger
	numNodes int

	batchSize int
	faults    []FaultRecord
	utils     []UtilRecord

	// Utilization counters arrive as separate low/high 16-bit events;
	// the low words are held here until the high words complete them.
	pendingUtil map[utilKey]uint32
}

type utilKey struct {
	node int
	link int
	tdm  bool
}

// NewRecorder opens (and creates) the database at path. An empty path
// picks a unique name.
func NewRecorder(path string, numNodes int, log zerolog.Logger) (*Recorder, error) {
	if path == "" {
		path = "noc_telemetry_" + xid.New().String()
	}
	filename := path + ".sqlite3"

	if _, err := os.Stat(filename); err == nil {
		return nil, fmt.Errorf("recording: file %s already exists", filename)
	}

	db, err := sql.Open("sqlite3", filename)
	if err != nil {
		return nil, fmt.Errorf("recording: open database: %w", err)
	}

	r := &Recorder{
		db:          db,
		log:         log.With().Str("module", "recording").Logger(),
		numNodes:    numNodes,
		batchSize:   4096,
		pendingUtil: make(map[utilKey]uint32),
	}

	if err := r.createTables(); err != nil {
		db.Close()
		return nil, err
	}

	r.log.Info().Str("file", filename).Msg("telemetry database created")

	atexit.Register(func() { r.Flush() })

	return r, nil
}

func (r *Recorder) createTables() error {
	stmts := []string{
		`CREATE TABLE faults (
			timestamp INTEGER,
			node INTEGER,
			mask INTEGER
		)`,
		`CREATE TABLE utilization (
			timestamp INTEGER,
			node INTEGER,
			link INTEGER,
			tdm INTEGER,
			cycles INTEGER
		)`,
	}
	for _, s := range stmts {
		if _, err := r.db.Exec(s); err != nil {
			return fmt.Errorf("recording: create table: %w", err)
		}
	}

	return nil
}

// HandleFault decodes one fault-detection event. The first flit carries
// the starting node; each following flit packs the masks of two
// consecutive nodes.
func (r *Recorder) HandleFault(payload []uint16) {
	now := time.Now().UnixMilli()

	node := int(payload[0] >> 2)
	idx := 1
	for node < r.numNodes && idx < len(payload) {
		r.addFault(FaultRecord{
			Timestamp: now,
			Node:      node,
			Mask:      uint8(payload[idx]),
		})
		node++
		if node < r.numNodes {
			r.addFault(FaultRecord{
				Timestamp: now,
				Node:      node,
				Mask:      uint8(payload[idx] >> 8),
			})
			node++
		}
		idx++
	}
}

// HandleUtil decodes one utilization event. The first flit carries the
// transfer mode, the word half, and the node; the remaining flits are
// per-link counter halves.
func (r *Recorder) HandleUtil(payload []uint16) {
	transMode := payload[0] >> 2 & 0b11
	word := payload[0] >> 4 & 0b1
	node := int(payload[0] >> 5)
	tdm := transMode == 0

	now := time.Now().UnixMilli()

	for link, half := range payload[1:] {
		key := utilKey{node: node, link: link, tdm: tdm}
		if word == 0 {
			r.pendingUtil[key] = uint32(half)
			continue
		}

		cycles := r.pendingUtil[key] | uint32(half)<<16
		delete(r.pendingUtil, key)
		r.addUtil(UtilRecord{
			Timestamp: now,
			Node:      node,
			Link:      link,
			TDM:       tdm,
			Cycles:    cycles,
		})
	}
}

func (r *Recorder) addFault(record FaultRecord) {
	r.faults = append(r.faults, record)
	if len(r.faults)+len(r.utils) >= r.batchSize {
		r.Flush()
	}
}

func (r *Recorder) addUtil(record UtilRecord) {
	r.utils = append(r.utils, record)
	if len(r.faults)+len(r.utils) >= r.batchSize {
		r.Flush()
	}
}

// Flush writes all buffered records in one transaction.
func (r *Recorder) Flush() {
	if len(r.faults) == 0 && len(r.utils) == 0 {
		return
	}

	tx, err := r.db.Begin()
	if err != nil {
		r.log.Error().Err(err).Msg("cannot begin transaction")
		return
	}

	for _, f := range r.faults {
		_, err = tx.Exec(
			"INSERT INTO faults VALUES (?, ?, ?)",
			f.Timestamp, f.Node, f.Mask)
		if err != nil {
			r.log.Error().Err(err).Msg("fault insert failed")
		}
	}
	for _, u := range r.utils {
		_, err = tx.Exec(
			"INSERT INTO utilization VALUES (?, ?, ?, ?, ?)",
			u.Timestamp, u.Node, u.Link, u.TDM, u.Cycles)
		if err != nil {
			r.log.Error().Err(err).Msg("utilization insert failed")
		}
	}

	if err := tx.Commit(); err != nil {
		r.log.Error().Err(err).Msg("commit failed")
		return
	}

	r.faults = r.faults[:0]
	r.utils = r.utils[:0]
}

// Close flushes and closes the database.
func (r *Recorder) Close() error {
	r.Flush()

	return r.db.Close()
}
