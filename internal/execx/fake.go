package execx

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// Fake records invocations and answers from canned responses keyed by
// "name arg1 arg2 ...". A key may also be a bare name to match any args.
type Fake struct {
	mu        sync.Mutex
	Responses map[string]FakeResponse
	Paths     map[string]string
	Calls     []string
}

type FakeResponse struct {
	Output []byte
	Err    error
	// Do runs before returning, for side effects such as creating files.
	Do func(args []string)
}

func NewFake() *Fake {
	return &Fake{Responses: map[string]FakeResponse{}, Paths: map[string]string{}}
}

func (f *Fake) On(cmdline string, out string, err error) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Responses[cmdline] = FakeResponse{Output: []byte(out), Err: err}
	return f
}

func (f *Fake) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	line := strings.TrimSpace(name + " " + strings.Join(args, " "))

	f.mu.Lock()
	f.Calls = append(f.Calls, line)
	resp, ok := f.Responses[line]
	if !ok {
		resp, ok = f.Responses[name]
	}
	f.mu.Unlock()

	if !ok {
		return nil, fmt.Errorf("fake: no response for %q", line)
	}
	if resp.Do != nil {
		resp.Do(args)
	}
	return resp.Output, resp.Err
}

func (f *Fake) LookPath(name string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if p, ok := f.Paths[name]; ok {
		return p, nil
	}
	return "", fmt.Errorf("fake: %s not found", name)
}

// Called reports whether a call starting with prefix was made.
func (f *Fake) Called(prefix string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.Calls {
		if strings.HasPrefix(c, prefix) {
			return true
		}
	}
	return false
}
