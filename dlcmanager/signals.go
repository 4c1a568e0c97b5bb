package dlcmanager

// Signals holds the callbacks the manager invokes for each emitted
// signal (§6). Any field left nil is simply not called; this mirrors the
// source engine's Signal<> broadcast objects without requiring callers
// to subscribe to a full event-bus abstraction. All callbacks run on the
// same goroutine that called ContinueInitialization or Update (the
// "main thread" of §5).
type Signals struct {
	Error               func(ErrorInfo)
	NetworkReady        func(ready bool)
	InitializeFinished  func(downloadedFiles, totalFiles uint32)
	RequestUpdated      func(r *Request)
	RequestStartLoading func(r *Request)
}

func (s Signals) emitError(info ErrorInfo) {
	if s.Error != nil {
		s.Error(info)
	}
}

func (s Signals) emitNetworkReady(ready bool) {
	if s.NetworkReady != nil {
		s.NetworkReady(ready)
	}
}

func (s Signals) emitInitializeFinished(downloaded, total uint32) {
	if s.InitializeFinished != nil {
		s.InitializeFinished(downloaded, total)
	}
}

func (s Signals) emitRequestUpdated(r *Request) {
	if s.RequestUpdated != nil {
		s.RequestUpdated(r)
	}
}

func (s Signals) emitRequestStartLoading(r *Request) {
	if s.RequestStartLoading != nil {
		s.RequestStartLoading(r)
	}
}
