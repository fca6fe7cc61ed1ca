// Package command implements keva's command table and dispatch logic.
package command

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/oxfell/keva/internal/metrics"
	"github.com/oxfell/keva/internal/protocol"
	"github.com/oxfell/keva/internal/store"
)

// Reply texts for requests that never reach a handler.
const (
	replyInvalidFormat  = "ERR Invalid command format"
	replyUnknownCommand = "ERR Unknown command"
)

// Dispatcher routes decoded requests to command handlers backed by a
// shared store.
type Dispatcher struct {
	store   *store.Store
	metrics *metrics.Metrics
}

// New creates a Dispatcher over st, recording command counters in m.
func New(st *store.Store, m *metrics.Metrics) *Dispatcher {
	return &Dispatcher{store: st, metrics: m}
}

type handlerFunc func(d *Dispatcher, args [][]byte) (protocol.Value, bool, error)

type command struct {
	name  string // lowercase, used in error replies
	arity int
	fn    handlerFunc
}

// validArity follows the Redis convention: positive arity demands exactly
// that many elements (command name included), negative demands at least
// -arity.
func (c *command) validArity(n int) bool {
	if c.arity >= 0 {
		return n == c.arity
	}
	return n >= -c.arity
}

var cmdTable = map[string]*command{
	"PING": {name: "ping", arity: -1, fn: cmdPing},
	"ECHO": {name: "echo", arity: 2, fn: cmdEcho},
	"GET":  {name: "get", arity: 2, fn: cmdGet},
	"SET":  {name: "set", arity: -3, fn: cmdSet},
	"DEL":  {name: "del", arity: -2, fn: cmdDel},
	"QUIT": {name: "quit", arity: -1, fn: cmdQuit},
}

// Dispatch executes one decoded request and returns the reply. quit
// reports that the connection should be closed once the reply has been
// written. A non-nil error means the request could not be executed
// safely; the caller answers with a generic internal error and drops the
// connection.
func (d *Dispatcher) Dispatch(v protocol.Value) (reply protocol.Value, quit bool, err error) {
	args, ok := commandArgs(v)
	if !ok {
		d.metrics.CommandErrors.Inc()
		return protocol.Error(replyInvalidFormat), false, nil
	}

	name := strings.ToUpper(string(args[0]))
	c, ok := cmdTable[name]
	if !ok {
		d.metrics.CommandErrors.Inc()
		return protocol.Error(replyUnknownCommand), false, nil
	}
	d.metrics.CommandsTotal.WithLabelValues(name).Inc()

	if !c.validArity(len(args)) {
		d.metrics.CommandErrors.Inc()
		return wrongArgs(c.name), false, nil
	}

	reply, quit, err = c.fn(d, args)
	if err != nil || reply.Type == protocol.TypeError {
		d.metrics.CommandErrors.Inc()
	}
	return reply, quit, err
}

// commandArgs flattens a request into its byte-string arguments. Anything
// that is not a non-empty array of non-null bulk strings is rejected.
func commandArgs(v protocol.Value) ([][]byte, bool) {
	if v.Type != protocol.TypeArray || v.Null || len(v.Array) == 0 {
		return nil, false
	}
	args := make([][]byte, len(v.Array))
	for i, el := range v.Array {
		if el.Type != protocol.TypeBulkString || el.Null {
			return nil, false
		}
		args[i] = el.Bulk
	}
	return args, true
}

func wrongArgs(name string) protocol.Value {
	return protocol.Error(fmt.Sprintf("ERR wrong number of arguments for '%s' command", name))
}

func cmdPing(d *Dispatcher, args [][]byte) (protocol.Value, bool, error) {
	return protocol.SimpleString("PONG"), false, nil
}

func cmdEcho(d *Dispatcher, args [][]byte) (protocol.Value, bool, error) {
	return protocol.BulkString(args[1]), false, nil
}

func cmdGet(d *Dispatcher, args [][]byte) (protocol.Value, bool, error) {
	val, ok := d.store.Get(string(args[1]))
	if !ok {
		return protocol.NullBulkString(), false, nil
	}
	return protocol.BulkString(val), false, nil
}

func cmdSet(d *Dispatcher, args [][]byte) (protocol.Value, bool, error) {
	if len(args) != 3 && len(args) != 5 {
		return wrongArgs("set"), false, nil
	}
	key := string(args[1])

	if len(args) == 5 {
		// The magnitude may be fractional ("EX 0.5" is half a second).
		magnitude, err := strconv.ParseFloat(string(args[4]), 64)
		if err != nil {
			return protocol.Value{}, false, fmt.Errorf("parse expire time: %w", err)
		}
		switch strings.ToUpper(string(args[3])) {
		case "EX":
			d.store.SetWithTTL(key, args[2], time.Duration(magnitude*float64(time.Second)))
			return protocol.SimpleString("OK"), false, nil
		case "PX":
			d.store.SetWithTTL(key, args[2], time.Duration(magnitude*float64(time.Millisecond)))
			return protocol.SimpleString("OK"), false, nil
		}
		// Unrecognised option tokens are accepted and ignored.
	}

	d.store.Set(key, args[2])
	return protocol.SimpleString("OK"), false, nil
}

func cmdDel(d *Dispatcher, args [][]byte) (protocol.Value, bool, error) {
	removed := int64(0)
	for _, key := range args[1:] {
		if d.store.Delete(string(key)) {
			removed++
		}
	}
	return protocol.Integer(removed), false, nil
}

func cmdQuit(d *Dispatcher, args [][]byte) (protocol.Value, bool, error) {
	return protocol.SimpleString("OK"), true, nil
}
