package assetstate

import (
	"errors"
	"fmt"
)

// Kind is the coarse display state of a wallpaper asset.
type Kind string

const (
	KindInitial       Kind = "initial"
	KindNeedsDownload Kind = "needsDownload"
	KindDownloading   Kind = "downloading"
	KindLoading       Kind = "loading"
	KindSuccess       Kind = "success"
	KindFailure       Kind = "failure"
)

// DisplayKind says what a successful asset can be shown as.
type DisplayKind string

const (
	DisplayImage     DisplayKind = "image"
	DisplayLivePhoto DisplayKind = "livePhoto"
)

// ErrorKind classifies a failure for diagnostics. Users only see a generic message.
type ErrorKind string

const (
	ErrorInput         ErrorKind = "input"
	ErrorNormalization ErrorKind = "normalization"
	ErrorBundle        ErrorKind = "bundle"
	ErrorDownload      ErrorKind = "download"
	ErrorGeneration    ErrorKind = "generation"
	ErrorInternal      ErrorKind = "internal"
)

// State is the presentation-facing state of one asset.
type State struct {
	Kind    Kind        `json:"kind"`
	Display DisplayKind `json:"display,omitempty"`
	Error   ErrorKind   `json:"error,omitempty"`
}

func Initial() State       { return State{Kind: KindInitial} }
func NeedsDownload() State { return State{Kind: KindNeedsDownload} }
func Downloading() State   { return State{Kind: KindDownloading} }
func Loading() State       { return State{Kind: KindLoading} }

func Success(d DisplayKind) State {
	return State{Kind: KindSuccess, Display: d}
}

func Failure(k ErrorKind) State {
	return State{Kind: KindFailure, Error: k}
}

// Terminal reports whether only a user action can move the asset on.
func (s State) Terminal() bool {
	return s.Kind == KindSuccess || s.Kind == KindFailure
}

// InFlight reports whether a download or pipeline run currently owns the asset.
func (s State) InFlight() bool {
	return s.Kind == KindDownloading || s.Kind == KindLoading
}

func (s State) String() string {
	switch s.Kind {
	case KindSuccess:
		return fmt.Sprintf("success(%s)", s.Display)
	case KindFailure:
		return fmt.Sprintf("failure(%s)", s.Error)
	default:
		return string(s.Kind)
	}
}

// EventType names a transition trigger.
type EventType string

const (
	// Driven by the remote download collaborator.
	EventRequestDownload  EventType = "requestDownload"
	EventDownloadStarted  EventType = "downloadStarted"
	EventDownloadFinished EventType = "downloadFinished"
	EventDownloadFailed   EventType = "downloadFailed"

	// User actions.
	EventShowImage EventType = "showImage"
	EventAnimate   EventType = "animate"
	EventReset     EventType = "reset"

	// Pipeline outcomes.
	EventLivePhotoReady EventType = "livePhotoReady"
	EventPipelineFailed EventType = "pipelineFailed"
)

// Event is a transition trigger. Outcome events carry the generation of the
// run that produced them so that results of superseded runs are dropped.
type Event struct {
	Type       EventType   `json:"type"`
	Display    DisplayKind `json:"display,omitempty"`
	Error      ErrorKind   `json:"error,omitempty"`
	Generation uint64      `json:"generation,omitempty"`
}

func (e Event) outcome() bool {
	switch e.Type {
	case EventDownloadFinished, EventDownloadFailed, EventLivePhotoReady, EventPipelineFailed:
		return true
	}
	return false
}

var (
	ErrInvalidTransition = errors.New("invalid state transition")
	ErrStaleGeneration   = errors.New("stale generation")
)

// TransitionError reports an event that is not accepted in the current state.
type TransitionError struct {
	From  State
	Event EventType
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s does not accept %s", e.From, e.Event)
}

func (e *TransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}

// Apply returns the state reached from s on ev.
func Apply(s State, ev Event) (State, error) {
	if ev.Type == EventReset {
		return Initial(), nil
	}

	invalid := &TransitionError{From: s, Event: ev.Type}

	switch ev.Type {
	case EventRequestDownload:
		if s.Kind == KindInitial || s.Kind == KindNeedsDownload || (s.Kind == KindFailure && s.Error == ErrorDownload) {
			return NeedsDownload(), nil
		}
	case EventDownloadStarted:
		if s.Kind == KindNeedsDownload {
			return Downloading(), nil
		}
	case EventDownloadFinished:
		if s.Kind == KindDownloading {
			if ev.Display == "" {
				return State{}, fmt.Errorf("%w: download finished without a display kind", ErrInvalidTransition)
			}
			return Success(ev.Display), nil
		}
	case EventDownloadFailed:
		if s.Kind == KindDownloading {
			return Failure(ErrorDownload), nil
		}
	case EventShowImage:
		if s.Kind == KindInitial || s.Terminal() {
			return Success(DisplayImage), nil
		}
	case EventAnimate:
		// Downloaded video sources go straight into the pipeline.
		if s.Kind == KindInitial || s.Kind == KindDownloading || s.Terminal() {
			return Loading(), nil
		}
	case EventLivePhotoReady:
		if s.Kind == KindLoading {
			return Success(DisplayLivePhoto), nil
		}
	case EventPipelineFailed:
		if s.Kind == KindLoading {
			kind := ev.Error
			if kind == "" {
				kind = ErrorInternal
			}
			return Failure(kind), nil
		}
	default:
		return State{}, fmt.Errorf("%w: unknown event %q", ErrInvalidTransition, ev.Type)
	}
	return State{}, invalid
}

// Snapshot is a persisted state together with its run generation.
type Snapshot struct {
	State      State  `json:"state"`
	Generation uint64 `json:"generation"`
}

// Advance applies ev to snap. Entering downloading or loading starts a new
// generation; outcome events must name the current one.
func Advance(snap Snapshot, ev Event) (Snapshot, error) {
	if ev.outcome() && ev.Generation != snap.Generation {
		return snap, fmt.Errorf("%w: event %s for generation %d, current %d",
			ErrStaleGeneration, ev.Type, ev.Generation, snap.Generation)
	}

	next, err := Apply(snap.State, ev)
	if err != nil {
		return snap, err
	}

	gen := snap.Generation
	if next.InFlight() && next.Kind != snap.State.Kind {
		gen++
	}
	return Snapshot{State: next, Generation: gen}, nil
}
