// Package taskview renders the public task list.
//
// A View goes through one render cycle: Mount starts a single fetch, the result
// (if any) replaces the empty initial state once, and Render writes the list.
// Fetch failures are logged and leave the list empty. A result that arrives
// after Unmount is dropped.
package taskview

import (
	"context"
	"embed"
	"html/template"
	"io"
	"sync"

	log "github.com/sirupsen/logrus"

	"tasklist/domain"
)

// Heading is the fixed title rendered above the list.
const Heading = "Список задач"

//go:embed templates/*.html
var templateFS embed.FS

var templates = template.Must(template.ParseFS(templateFS, "templates/*.html"))

type renderData struct {
	Heading string
	Tasks   []domain.Task
}

// View holds the state of one task list render cycle.
type View struct {
	fetcher Fetcher
	logger  *log.Logger

	mountOnce sync.Once
	done      chan struct{}

	mu        sync.Mutex
	unmounted bool
	cancel    context.CancelFunc
	tasks     []domain.Task
}

// New creates a View with an empty task list that has not been mounted yet.
func New(fetcher Fetcher, logger *log.Logger) *View {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &View{
		fetcher: fetcher,
		logger:  logger,
		done:    make(chan struct{}),
	}
}

// Mount starts the fetch in the background. Only the first call has an effect.
// A View is single use: mounting after Unmount fetches nothing and closes Done
// straight away.
func (v *View) Mount(ctx context.Context) {
	v.mountOnce.Do(func() {
		v.mu.Lock()
		if v.unmounted {
			v.mu.Unlock()
			close(v.done)
			return
		}
		ctx, cancel := context.WithCancel(ctx)
		v.cancel = cancel
		v.mu.Unlock()
		go v.load(ctx)
	})
}

func (v *View) load(ctx context.Context) {
	defer close(v.done)

	tasks, err := v.fetcher.FetchTasks(ctx)
	if err != nil {
		if ctx.Err() != nil {
			v.logger.WithError(err).Debug("task fetch cancelled")
			return
		}
		v.logger.WithError(err).WithField("path", PublicTasksPath).Error("failed to fetch tasks")
		return
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	if v.unmounted {
		v.logger.Debug("view unmounted before tasks arrived; dropping result")
		return
	}
	v.tasks = tasks
}

// Unmount cancels an in-flight fetch and prevents any later state write,
// including from a Mount that has not happened yet.
func (v *View) Unmount() {
	v.mu.Lock()
	v.unmounted = true
	cancel := v.cancel
	v.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Done is closed once the fetch started by Mount has finished, whatever its
// outcome. It is never closed for a View that was not mounted.
func (v *View) Done() <-chan struct{} {
	return v.done
}

// Tasks returns a copy of the current view state.
func (v *View) Tasks() []domain.Task {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]domain.Task(nil), v.tasks...)
}

// Render writes the heading and the list for the current state.
func (v *View) Render(w io.Writer) error {
	return templates.ExecuteTemplate(w, "tasklist", renderData{Heading: Heading, Tasks: v.Tasks()})
}

// RenderPage writes a complete HTML document wrapping Render's output.
func (v *View) RenderPage(w io.Writer) error {
	return templates.ExecuteTemplate(w, "page", renderData{Heading: Heading, Tasks: v.Tasks()})
}
