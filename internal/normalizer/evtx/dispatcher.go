package evtx

import (
	"fmt"
	"maps"
	"slices"
)

// Table maps event ids to their handler within one channel.
type Table map[int]Handler

var powershellHandlers = Table{
	400:  engineState,
	600:  providerLifecycle,
	4103: moduleLogging,
	4104: scriptBlock,
}

// DefaultTables returns the handler tables for every known channel.
func DefaultTables() map[Channel]Table {
	return map[Channel]Table{
		ChannelSecurity: {
			4624: securityLogon,
			4625: securityLogonFailure,
			4648: securityLogon,
			4672: specialPrivileges,
			4688: processCreated,
			4698: taskCreated,
			4720: userModification,
			4723: userModification,
			4724: userModification,
			4726: userModification,
		},
		ChannelSystem:                {7045: serviceInstalled},
		ChannelPowerShellOperational: powershellHandlers,
		ChannelWindowsPowerShell:     powershellHandlers,
		ChannelWMI: {
			5858: wmiFailure,
			5860: wmiActivity,
			5861: wmiConsumerBinding,
		},
		ChannelDefender: {
			1116: defender,
			1117: defender,
			1118: defender,
			1119: defender,
		},
		ChannelTaskScheduler: {
			106: taskScheduler,
			107: taskScheduler,
			140: taskScheduler,
			141: taskScheduler,
			200: taskScheduler,
			201: taskScheduler,
		},
		ChannelRDPRemote: {1149: rdpRemote},
		ChannelRDPLocal: {
			21: rdpLocal,
			24: rdpLocal,
			25: rdpLocal,
			39: rdpLocal,
			40: rdpLocal,
		},
		ChannelBITS: {
			3:  bitsClient,
			4:  bitsClient,
			59: bitsClient,
			60: bitsClient,
			61: bitsClient,
		},
	}
}

// Parsed is the outcome of dispatching one event.
type Parsed struct {
	Doc map[string]any
	// Handled is true when a typed handler produced Doc.
	Handled bool
	// Err is the typed handler failure that forced the generic fallback.
	Err error
}

// Dispatcher selects a handler by channel and event id.
type Dispatcher struct {
	tables map[Channel]Table
}

// NewDispatcher creates a dispatcher over the given tables.
func NewDispatcher(tables map[Channel]Table) *Dispatcher {
	return &Dispatcher{tables: tables}
}

// Lookup returns the handler registered for the channel and event id.
func (d *Dispatcher) Lookup(channel Channel, eventID int) (Handler, bool) {
	table, ok := d.tables[channel]
	if !ok {
		return nil, false
	}
	h, ok := table[eventID]
	return h, ok
}

// Channels lists the channels with at least one handler, sorted.
func (d *Dispatcher) Channels() []Channel {
	var out []Channel
	for channel, table := range d.tables {
		if len(table) > 0 {
			out = append(out, channel)
		}
	}
	slices.Sort(out)
	return out
}

// EventIDs lists the event ids handled for a channel, sorted.
func (d *Dispatcher) EventIDs(channel Channel) []int {
	return slices.Sorted(maps.Keys(d.tables[channel]))
}

// Dispatch runs the typed handler for the event, falling back to Generic
// when none is registered or the handler fails. A failed handler leaves its
// intended channel and event id on the fallback document under
// winlog.intended_handler.
func (d *Dispatcher) Dispatch(channel Channel, eventID int, r Record) (Parsed, error) {
	h, ok := d.Lookup(channel, eventID)
	if !ok {
		doc, err := Generic(r)
		return Parsed{Doc: doc}, err
	}

	doc, err := invoke(h, r)
	if err == nil {
		return Parsed{Doc: doc, Handled: true}, nil
	}

	fallback, genericErr := Generic(r)
	if genericErr != nil {
		return Parsed{}, genericErr
	}
	winlog := object(fallback["winlog"])
	winlog["intended_handler"] = map[string]any{
		"channel":  string(channel),
		"event_id": eventID,
	}
	winlog["handler_error"] = err.Error()
	fallback["winlog"] = winlog
	return Parsed{Doc: fallback, Err: err}, nil
}

func invoke(h Handler, r Record) (doc map[string]any, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("handler panic: %v", rec)
		}
	}()
	return h(r)
}
