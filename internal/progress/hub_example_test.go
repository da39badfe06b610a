package progress

import (
	"context"
	"fmt"
	"time"
)

type exampleCountingSink struct {
	total int
}

func (s *exampleCountingSink) Consume(_ context.Context, batch []Event) error {
	s.total += len(batch)
	return nil
}

func (s *exampleCountingSink) Close(context.Context) error {
	return nil
}

// ExampleHub_Emit demonstrates emitting an event and flushing via Close.
func ExampleHub_Emit() {
	sink := &exampleCountingSink{}
	hub := NewHub(Config{BufferSize: 4, MaxBatchEvents: 1, MaxBatchWait: time.Second}, sink)

	hub.Emit(Event{Type: JobStarted, JobID: "job-1", KBID: "kb-1", TS: time.Unix(0, 0)})
	if err := hub.Close(context.Background()); err != nil {
		panic(err)
	}

	fmt.Printf("events forwarded: %d\n", sink.total)
	// Output:
	// events forwarded: 1
}

// ExampleChannel streams events to a reader until the Done sentinel.
func ExampleChannel() {
	ch := NewChannel(context.Background(), 4)
	go func() {
		ch.Emit(Event{Type: JobStarted, JobID: "job-1"})
		ch.Emit(Event{Type: JobCompleted, JobID: "job-1"})
		ch.Close(Event{JobID: "job-1"})
	}()
	for evt := range ch.Events() {
		fmt.Println(evt.Type)
	}
	// Output:
	// job_started
	// job_completed
	// done
}
