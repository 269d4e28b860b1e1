package metrics

import "time"

type NoopRecorder struct{}

func (NoopRecorder) RecordVerification(string, string)    {}
func (NoopRecorder) ObserveResolve(string, time.Duration) {}
