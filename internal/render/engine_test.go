package render

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestEngine_AdmissionFailsFastAtCapacity(t *testing.T) {
	e := NewEngine(zap.NewNop())

	require.NoError(t, e.acquire(2))
	require.NoError(t, e.acquire(2))

	err := e.acquire(2)
	assert.ErrorIs(t, err, ErrAtCapacity)
	assert.Equal(t, 2, e.Active())
}

func TestEngine_AdmissionCounterReturnsToZero(t *testing.T) {
	e := NewEngine(zap.NewNop())

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := e.acquire(10); err != nil {
				assert.ErrorIs(t, err, ErrAtCapacity)
				return
			}
			time.Sleep(time.Millisecond)
			e.release()
		}()
	}
	wg.Wait()

	assert.Zero(t, e.Active())
}

func TestEngine_AcquireAfterShutdown(t *testing.T) {
	e := NewEngine(zap.NewNop())
	e.Shutdown()

	assert.ErrorIs(t, e.acquire(10), ErrShutdown)
}

func TestEngine_AvailableBeforeLaunch(t *testing.T) {
	e := NewEngine(zap.NewNop())
	ok, err := e.Available()
	assert.True(t, ok)
	assert.NoError(t, err)
}

func TestSelectorLadder(t *testing.T) {
	assert.Equal(t,
		[]string{"#root", "#app", "[data-reactroot]", "body > *"},
		selectorLadder("#root"))

	// configured selector matching a fixed rung is not tried twice
	assert.Equal(t,
		[]string{"#app", "[data-reactroot]", "body > *"},
		selectorLadder("#app"))
}

func TestInjectHeaders(t *testing.T) {
	original := map[string]interface{}{
		"Accept":            "text/html",
		"x-renderx-internal": "stale",
	}

	headers := injectHeaders(original, "https://app.example")

	byName := map[string]string{}
	for _, h := range headers {
		byName[h.Name] = h.Value
	}

	assert.Equal(t, "text/html", byName["Accept"])
	assert.Equal(t, "true", byName[HeaderInternal])
	assert.Equal(t, "https://app.example", byName["Origin"])
	// the stale marker was overridden, not duplicated
	assert.Len(t, headers, 3)
}

func TestInjectHeaders_NoOrigin(t *testing.T) {
	headers := injectHeaders(nil, "")
	require.Len(t, headers, 1)
	assert.Equal(t, HeaderInternal, headers[0].Name)
	assert.Equal(t, "true", headers[0].Value)
}

func TestTolerate(t *testing.T) {
	e := NewEngine(zap.NewNop())

	assert.NoError(t, e.tolerate(nil))
	assert.NoError(t, e.tolerate(ErrWaitTimeout))
	assert.Error(t, e.tolerate(context.Canceled))
}

func TestStub_RecordsJobs(t *testing.T) {
	stub := &Stub{HTML: "<html></html>"}

	res, err := stub.Render(context.Background(), &Job{URL: "http://localhost:3000/a"})
	require.NoError(t, err)
	assert.Equal(t, "<html></html>", res.HTML)

	jobs := stub.Jobs()
	require.Len(t, jobs, 1)
	assert.Equal(t, "http://localhost:3000/a", jobs[0].URL)
}

func TestStub_Error(t *testing.T) {
	boom := errors.New("boom")
	stub := &Stub{Err: boom}

	_, err := stub.Render(context.Background(), &Job{})
	assert.ErrorIs(t, err, boom)
}
