package chamelium

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"kmslab.dev/internal/kms"
)

// Fixture serves the wire protocol in front of a kms.Device. One instance
// handles any number of client connections; commands from all of them hit the
// same device, which is what a shared physical fixture does too.
type Fixture struct {
	dev *kms.Device
	log *log.Logger

	upgrader websocket.Upgrader

	// initial connection state per port, restored by RESET
	initial map[int]bool

	// last capture, served by READ_CRCS and DUMP_FRAME, guarded against
	// concurrent client connections
	mu      sync.Mutex
	capture *captureState
}

type captureState struct {
	crcs   []string
	frame  []byte
	width  int
	height int
}

func NewFixture(dev *kms.Device, logger *log.Logger) *Fixture {
	f := &Fixture{
		dev: dev,
		log: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		initial: map[int]bool{},
	}
	for _, c := range dev.Connectors() {
		f.initial[c.ID()] = c.Status() == kms.Connected
	}
	return f
}

func (f *Fixture) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := f.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		out := make(chan []byte, 16)

		// Writer goroutine.
		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case b, ok := <-out:
					if !ok {
						return
					}
					_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
					if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
						cancel()
						return
					}
				}
			}
		}()

		// Reader loop.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				cancel()
				return
			}
			resp := f.dispatch(msg)
			b, err := json.Marshal(resp)
			if err != nil {
				continue
			}
			select {
			case out <- b:
			case <-ctx.Done():
				return
			}
		}
	}
}

func (f *Fixture) dispatch(raw []byte) Response {
	base, err := DecodeBase(raw)
	if err != nil {
		return failure(base.ID, ErrProtoBadRequest, err.Error())
	}
	var req Request
	if err := json.Unmarshal(raw, &req); err != nil {
		return failure(base.ID, ErrProtoBadRequest, err.Error())
	}

	switch req.Type {
	case TypeReset:
		return f.reset(req)
	case TypeProbePorts:
		return f.probePorts(req)
	case TypePlug, TypeUnplug, TypeSetEDID, TypeSetDDC, TypeScheduleHPD:
		return f.portCommand(req)
	case TypeCapture:
		return f.captureFrames(req)
	case TypeReadCRCs:
		return f.readCRCs(req)
	case TypeDumpFrame:
		return f.dumpFrame(req)
	default:
		return failure(req.ID, ErrProtoBadRequest, fmt.Sprintf("unknown type %q", req.Type))
	}
}

func success(id uint64) Response {
	return Response{Type: TypeResult, ID: id, OK: true}
}

func failure(id uint64, code, msg string) Response {
	return Response{Type: TypeResult, ID: id, Code: code, Message: msg}
}

func (f *Fixture) reset(req Request) Response {
	for _, c := range f.dev.Connectors() {
		if f.initial[c.ID()] {
			c.Plug()
		} else {
			c.Unplug()
		}
		c.SetDDC(true)
	}
	f.dev.ResetHPDStorm()
	f.mu.Lock()
	f.capture = nil
	f.mu.Unlock()
	return success(req.ID)
}

func (f *Fixture) probePorts(req Request) Response {
	resp := success(req.ID)
	for _, c := range f.dev.Connectors() {
		resp.Ports = append(resp.Ports, PortInfo{
			Port:      c.ID(),
			Name:      c.Name(),
			Connected: c.Status() == kms.Connected,
		})
	}
	return resp
}

func (f *Fixture) portCommand(req Request) Response {
	conn, ok := f.dev.ConnectorByID(req.Port)
	if !ok {
		return failure(req.ID, ErrUnknownPort, fmt.Sprintf("no port %d", req.Port))
	}
	switch req.Type {
	case TypePlug:
		conn.Plug()
	case TypeUnplug:
		conn.Unplug()
	case TypeSetEDID:
		if len(req.EDID) == 0 {
			return failure(req.ID, ErrProtoBadRequest, "SET_EDID without an edid blob")
		}
		conn.SetEDID(req.EDID)
	case TypeSetDDC:
		if req.Enable == nil {
			return failure(req.ID, ErrProtoBadRequest, "SET_DDC without enable")
		}
		conn.SetDDC(*req.Enable)
	case TypeScheduleHPD:
		if req.Enable == nil {
			return failure(req.ID, ErrProtoBadRequest, "SCHEDULE_HPD_TOGGLE without enable")
		}
		conn.ScheduleHPDToggle(time.Duration(req.DelayMS)*time.Millisecond, *req.Enable)
	}
	return success(req.ID)
}

// pipeFor finds the pipe scanning out to the given port.
func (f *Fixture) pipeFor(port int) (*kms.Pipe, bool) {
	for _, p := range f.dev.Pipes() {
		if c := p.Connector(); c != nil && c.ID() == port {
			return p, true
		}
	}
	return nil, false
}

func (f *Fixture) captureFrames(req Request) Response {
	pipe, ok := f.pipeFor(req.Port)
	if !ok {
		return failure(req.ID, ErrUnknownPort, fmt.Sprintf("port %d is not being scanned out", req.Port))
	}
	count := req.FrameCount
	if count <= 0 {
		count = 1
	}
	tap := pipe.NewCRC()
	if err := tap.Start(); err != nil {
		return failure(req.ID, ErrInternal, err.Error())
	}
	defer tap.Stop()

	st := &captureState{}
	for i := 0; i < count; i++ {
		c, err := tap.GetCurrent()
		if err != nil {
			return failure(req.ID, ErrInternal, err.Error())
		}
		st.crcs = append(st.crcs, c.String())
	}
	if frame := pipe.Frame(); frame != nil {
		st.frame = frame.Pix
		st.width = frame.Width
		st.height = frame.Height
	}
	f.mu.Lock()
	f.capture = st
	f.mu.Unlock()
	if f.log != nil {
		f.log.Printf("captured %d frame(s) on port %d", count, req.Port)
	}
	return success(req.ID)
}

func (f *Fixture) readCRCs(req Request) Response {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.capture == nil {
		return failure(req.ID, ErrNoCapture, "READ_CRCS before CAPTURE")
	}
	resp := success(req.ID)
	resp.CRCs = append(resp.CRCs, f.capture.crcs...)
	return resp
}

func (f *Fixture) dumpFrame(req Request) Response {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.capture == nil || f.capture.frame == nil {
		return failure(req.ID, ErrNoCapture, "DUMP_FRAME before CAPTURE")
	}
	resp := success(req.ID)
	resp.Frame = f.capture.frame
	resp.Width = f.capture.width
	resp.Height = f.capture.height
	return resp
}
