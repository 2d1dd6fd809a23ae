// Package capture owns the recording lifecycle: idle, recording and
// finalizing. A single goroutine (Run) owns all state; user actions and
// device events reach it through channels and are handled in arrival order.
package capture

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/videoapp/api/internal/device"
	"github.com/videoapp/api/internal/model"
	"github.com/videoapp/api/internal/permission"
)

// SessionNameLayout formats session names from the local start time
const SessionNameLayout = "20060102_150405"

// MimeTypeMP4 is the container every recording is written in
const MimeTypeMP4 = "video/mp4"

var (
	// ErrInvalidState is returned when an action is not allowed in the current state
	ErrInvalidState = errors.New("invalid capture state")
	// ErrDeviceNotBound is returned when capture starts before the camera is bound
	ErrDeviceNotBound = errors.New("capture device not bound")
	// ErrPermissionDenied is returned when a required capability is missing
	ErrPermissionDenied = errors.New("permissions not granted")
	// ErrStopped is returned once Run has exited
	ErrStopped = errors.New("capture machine stopped")
)

// User-visible notices
const (
	NoticeRecordingStarted  = "Recording Started."
	NoticePermissionsDenied = "Permissions not granted by the user."
)

// MediaStore hands out output targets for new recordings
type MediaStore interface {
	CreateOutput(desc model.OutputDescriptor) (model.OutputTarget, error)
}

// Permissions answers capability checks
type Permissions interface {
	Has(c model.Capability) bool
}

// CommandBuilder turns a finished recording into an overlay command
type CommandBuilder interface {
	Build(sessionName, outputLocation, overlayAssetPath, destinationDirectory string) (model.OverlayCommand, error)
}

// Dispatcher submits overlay commands as a background job
type Dispatcher interface {
	Dispatch(ctx context.Context, commands []model.OverlayCommand) (*model.OverlayJob, error)
}

// Notifier receives user-visible notices and state changes
type Notifier interface {
	Notice(kind model.NoticeKind, message string)
	StateChanged(state model.CaptureState, session string)
}

// Options configures a Machine
type Options struct {
	OverlayAssetPath     string
	DestinationDirectory string
	RelativePath         string
	APILevel             int
	Now                  func() time.Time
}

type op int

const (
	opStart op = iota
	opStop
	opToggle
	opState
)

type request struct {
	op    op
	reply chan reply
}

type reply struct {
	snapshot model.CaptureStateResponse
	err      error
}

type binding struct {
	err error
	ack chan struct{}
}

type sessionEvent struct {
	session string
	event   model.RecordEvent
}

// Machine is the capture state machine
type Machine struct {
	camera     device.Camera
	store      MediaStore
	perms      Permissions
	builder    CommandBuilder
	dispatcher Dispatcher
	notifier   Notifier
	opts       Options

	requests   chan request
	events     chan sessionEvent
	bindings   chan binding
	cameraJobs chan func()
	done       chan struct{}

	// Owned by Run.
	runCtx  context.Context
	state   model.CaptureState
	bound   bool
	session *model.RecordingSession
	last    *model.RecordingSession
	rec     device.Recording

	// Sessions started within the same second get a numeric suffix.
	lastStamp string
	seq       int
}

// NewMachine creates an idle, unbound machine. notifier may be nil.
func NewMachine(camera device.Camera, store MediaStore, perms Permissions, builder CommandBuilder, dispatcher Dispatcher, notifier Notifier, opts Options) *Machine {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if notifier == nil {
		notifier = nopNotifier{}
	}
	return &Machine{
		camera:     camera,
		store:      store,
		perms:      perms,
		builder:    builder,
		dispatcher: dispatcher,
		notifier:   notifier,
		opts:       opts,
		requests:   make(chan request),
		events:     make(chan sessionEvent, 8),
		bindings:   make(chan binding),
		cameraJobs: make(chan func(), 1),
		done:       make(chan struct{}),
		state:      model.CaptureStateIdle,
	}
}

// Run processes actions and device events until ctx is done
func (m *Machine) Run(ctx context.Context) {
	defer close(m.done)
	m.runCtx = ctx

	go m.cameraLoop(ctx)

	for {
		select {
		case <-ctx.Done():
			if m.rec != nil {
				_ = m.rec.Stop()
			}
			return
		case req := <-m.requests:
			req.reply <- m.process(req.op)
		case b := <-m.bindings:
			m.bound = b.err == nil
			close(b.ack)
		case ev := <-m.events:
			m.handleEvent(ctx, ev)
		}
	}
}

// cameraLoop serialises device binding off the main loop
func (m *Machine) cameraLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-m.cameraJobs:
			job()
		}
	}
}

// Bind binds the camera on the camera goroutine. A failure is logged and
// leaves the machine unable to start.
func (m *Machine) Bind(ctx context.Context) error {
	result := make(chan error, 1)
	job := func() {
		err := m.camera.Bind(ctx)
		if err != nil {
			log.Printf("DeviceBindingFailure: %v", err)
		}
		b := binding{err: err, ack: make(chan struct{})}
		select {
		case m.bindings <- b:
			<-b.ack
		case <-m.done:
		}
		result <- err
	}

	select {
	case m.cameraJobs <- job:
	case <-ctx.Done():
		return ctx.Err()
	case <-m.done:
		return ErrStopped
	}

	// The job may sit in the buffer after cameraLoop has exited.
	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-m.done:
		return ErrStopped
	}
}

// Start begins a new recording
func (m *Machine) Start(ctx context.Context) (model.CaptureStateResponse, error) {
	return m.do(ctx, opStart)
}

// Stop asks the device to finish the current recording
func (m *Machine) Stop(ctx context.Context) (model.CaptureStateResponse, error) {
	return m.do(ctx, opStop)
}

// Toggle starts when idle and stops when recording
func (m *Machine) Toggle(ctx context.Context) (model.CaptureStateResponse, error) {
	return m.do(ctx, opToggle)
}

// State returns a snapshot of the machine
func (m *Machine) State(ctx context.Context) (model.CaptureStateResponse, error) {
	return m.do(ctx, opState)
}

func (m *Machine) do(ctx context.Context, o op) (model.CaptureStateResponse, error) {
	req := request{op: o, reply: make(chan reply, 1)}

	select {
	case m.requests <- req:
	case <-ctx.Done():
		return model.CaptureStateResponse{}, ctx.Err()
	case <-m.done:
		return model.CaptureStateResponse{}, ErrStopped
	}

	r := <-req.reply
	return r.snapshot, r.err
}

func (m *Machine) process(o op) reply {
	var err error
	switch o {
	case opStart:
		err = m.start()
	case opStop:
		err = m.stop()
	case opToggle:
		switch m.state {
		case model.CaptureStateIdle:
			err = m.start()
		case model.CaptureStateRecording:
			err = m.stop()
		default:
			err = fmt.Errorf("%w: capture is %s", ErrInvalidState, m.state)
		}
	}
	return reply{snapshot: m.snapshot(), err: err}
}

func (m *Machine) start() error {
	if m.state != model.CaptureStateIdle {
		return fmt.Errorf("%w: cannot start while %s", ErrInvalidState, m.state)
	}
	if !m.bound {
		return ErrDeviceNotBound
	}

	for _, c := range permission.Required(m.opts.APILevel) {
		if !m.perms.Has(c) {
			log.Printf("Capture blocked: %s permission missing", c)
			m.notifier.Notice(model.NoticeError, NoticePermissionsDenied)
			return fmt.Errorf("%w: %s", ErrPermissionDenied, c)
		}
	}

	name := m.sessionName(m.opts.Now())
	desc := model.OutputDescriptor{DisplayName: name, MimeType: MimeTypeMP4}
	if m.opts.APILevel > permission.LegacyStorageMaxAPILevel {
		desc.RelativePath = m.opts.RelativePath
	}

	target, err := m.store.CreateOutput(desc)
	if err != nil {
		return fmt.Errorf("failed to create output: %w", err)
	}

	handle, err := m.camera.PrepareRecording(target)
	if err != nil {
		return fmt.Errorf("failed to prepare recording: %w", err)
	}

	audio := m.perms.Has(model.CapabilityMicrophone)
	if !audio {
		log.Printf("Microphone not granted, recording %s without audio", name)
	}

	events, err := handle.Start(m.runCtx, audio)
	if err != nil {
		return fmt.Errorf("failed to start recording: %w", err)
	}

	m.rec = handle
	m.session = &model.RecordingSession{
		Name:           name,
		State:          model.CaptureStateRecording,
		OutputLocation: target.URI,
		AudioEnabled:   audio,
		StartedAt:      m.opts.Now(),
	}
	m.setState(model.CaptureStateRecording)
	go m.forward(name, events)

	log.Printf("Recording %s to %s", name, target.URI)
	return nil
}

func (m *Machine) sessionName(t time.Time) string {
	stamp := t.Format(SessionNameLayout)
	if stamp != m.lastStamp {
		m.lastStamp = stamp
		m.seq = 0
		return stamp
	}
	m.seq++
	return fmt.Sprintf("%s_%d", stamp, m.seq)
}

func (m *Machine) stop() error {
	if m.state != model.CaptureStateRecording {
		return fmt.Errorf("%w: cannot stop while %s", ErrInvalidState, m.state)
	}
	if err := m.rec.Stop(); err != nil {
		return fmt.Errorf("failed to stop recording: %w", err)
	}
	m.setState(model.CaptureStateFinalizing)
	return nil
}

// forward relays device events for one session into the main loop
func (m *Machine) forward(session string, events <-chan model.RecordEvent) {
	for ev := range events {
		select {
		case m.events <- sessionEvent{session: session, event: ev}:
		case <-m.done:
			return
		}
	}
}

func (m *Machine) handleEvent(ctx context.Context, se sessionEvent) {
	if m.session == nil || m.session.Name != se.session {
		log.Printf("Ignoring %s event for stale session %s", se.event.Kind, se.session)
		return
	}

	switch se.event.Kind {
	case model.RecordEventStart:
		m.notifier.Notice(model.NoticeInfo, NoticeRecordingStarted)
	case model.RecordEventFinalize:
		m.finalize(ctx, se.event)
	}
}

func (m *Machine) finalize(ctx context.Context, ev model.RecordEvent) {
	session := m.session
	m.session = nil
	m.rec = nil
	m.last = session

	if ev.OutputLocation != "" {
		session.OutputLocation = ev.OutputLocation
	}

	if ev.Err != nil {
		session.Error = ev.Err.Error()
		log.Printf("RecordingFinalizeError: session %s: %v", session.Name, ev.Err)
		m.notifier.Notice(model.NoticeError, fmt.Sprintf("Video capture failed: %v", ev.Err))
		m.setState(model.CaptureStateIdle)
		return
	}

	m.notifier.Notice(model.NoticeInfo, fmt.Sprintf("Video capture succeeded: %s", session.OutputLocation))

	cmd, err := m.builder.Build(session.Name, session.OutputLocation, m.opts.OverlayAssetPath, m.opts.DestinationDirectory)
	if err != nil {
		log.Printf("Failed to build overlay command for %s: %v", session.Name, err)
		m.setState(model.CaptureStateIdle)
		return
	}

	job, err := m.dispatcher.Dispatch(ctx, []model.OverlayCommand{cmd})
	if err != nil {
		log.Printf("Failed to dispatch overlay job for %s: %v", session.Name, err)
	} else {
		log.Printf("Overlay job %s queued for %s", job.ID, session.Name)
	}

	m.setState(model.CaptureStateIdle)
}

func (m *Machine) setState(state model.CaptureState) {
	m.state = state
	name := ""
	if m.session != nil {
		m.session.State = state
		name = m.session.Name
	} else if m.last != nil {
		m.last.State = state
		name = m.last.Name
	}
	m.notifier.StateChanged(state, name)
}

func (m *Machine) snapshot() model.CaptureStateResponse {
	resp := model.CaptureStateResponse{State: m.state, Bound: m.bound}
	s := m.session
	if s == nil {
		s = m.last
	}
	if s != nil {
		c := *s
		resp.Session = &c
	}
	return resp
}

type nopNotifier struct{}

func (nopNotifier) Notice(model.NoticeKind, string)        {}
func (nopNotifier) StateChanged(model.CaptureState, string) {}
