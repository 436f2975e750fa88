package mesh

import (
	"sort"
)

// Date is a discrete simulation time step.
type Date uint64

// Period is a recurrence interval in time steps.
type Period uint64

// JobID is the opaque handle a job receives at its first Schedule call. It is
// stable across epoch rebuilds.
type JobID int

// Task is one schedulable unit of work. A task returning a non-nil error is
// fatal: the runtime aborts the whole run.
type Task interface {
	Run() error
}

// TaskFunc adapts a plain function to Task.
type TaskFunc func() error

// Run implements Task.
func (f TaskFunc) Run() error { return f() }

// noopTask is the default begin/end task of a job.
type noopTask struct{}

func (noopTask) Run() error { return nil }

// Job is an ordered pair of begin and end tasks around a multiset of interior
// tasks. The runtime runs the begin task, then a shuffled permutation of the
// interior tasks, then the end task.
type Job struct {
	id    JobID
	begin Task
	end   Task
	tasks []Task
}

// NewJob creates an empty job with no-op begin and end tasks.
func NewJob() *Job {
	return &Job{id: -1, begin: noopTask{}, end: noopTask{}}
}

// ID returns the handle assigned at the job's first Schedule call, or -1
// before that.
func (j *Job) ID() JobID { return j.id }

// Add appends an interior task. The same task may be added more than once.
func (j *Job) Add(t Task) { j.tasks = append(j.tasks, t) }

// Tasks returns the interior tasks in submission order.
func (j *Job) Tasks() []Task { return j.tasks }

// SetBegin installs the task run before the interior tasks.
func (j *Job) SetBegin(t Task) { j.begin = t }

// Begin returns the begin task.
func (j *Job) Begin() Task { return j.begin }

// SetEnd installs the task run after the interior tasks.
func (j *Job) SetEnd(t Task) { j.end = t }

// End returns the end task.
func (j *Job) End() Task { return j.end }

// Epoch is the ordered set of jobs to run at one time step. Iteration yields
// jobs in nondecreasing sub-step order, preserving submission order for ties.
type Epoch struct {
	entries []epochEntry
}

type epochEntry struct {
	subStep    float64
	submission int
	job        *Job
}

// Submit appends a job at a sub-step. Builders call it; user code normally
// only iterates.
func (e *Epoch) Submit(job *Job, subStep float64) {
	e.entries = append(e.entries, epochEntry{subStep: subStep, submission: len(e.entries), job: job})
}

// Jobs returns the epoch's jobs in execution order.
func (e *Epoch) Jobs() []*Job {
	sorted := make([]epochEntry, len(e.entries))
	copy(sorted, e.entries)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].subStep < sorted[j].subStep })
	jobs := make([]*Job, len(sorted))
	for i, entry := range sorted {
		jobs[i] = entry.job
	}
	return jobs
}

// JobCount returns the number of submitted jobs.
func (e *Epoch) JobCount() int { return len(e.entries) }

// Clear empties the epoch for reuse.
func (e *Epoch) Clear() { e.entries = e.entries[:0] }

// submission is one recurrence rule registered with a Scheduler.
type submission struct {
	start   Date
	end     Date
	hasEnd  bool
	period  Period
	subStep float64
	job     *Job
}

func (s submission) covers(date Date) bool {
	if date < s.start {
		return false
	}
	if s.hasEnd && date >= s.end {
		return false
	}
	if s.period == 0 {
		return date == s.start
	}
	return (date-s.start)%Date(s.period) == 0
}

// ScheduleOption refines a Schedule call.
type ScheduleOption func(*submission)

// WithPeriod repeats the job every period steps from its start date. Without
// it the job runs exactly once.
func WithPeriod(period Period) ScheduleOption {
	return func(s *submission) { s.period = period }
}

// WithEnd stops the recurrence at end (exclusive).
func WithEnd(end Date) ScheduleOption {
	return func(s *submission) { s.hasEnd = true; s.end = end }
}

// WithSubStep orders the job inside its time step. subStep must be in [0,1);
// the default is 0.
func WithSubStep(subStep float64) ScheduleOption {
	return func(s *submission) { s.subStep = subStep }
}

// Scheduler maps every date to the epoch of jobs due at that date, derived
// from recurrent submissions.
//
//	sched := mesh.NewScheduler()
//	sched.Schedule(0, moveJob, mesh.WithPeriod(1))
//	sched.Schedule(0, balanceJob, mesh.WithPeriod(10), mesh.WithSubStep(0.9))
type Scheduler struct {
	submissions []submission
	nextJobID   JobID
}

// NewScheduler creates an empty scheduler.
func NewScheduler() *Scheduler {
	return &Scheduler{}
}

// Schedule registers a job starting at start. With no options the job runs at
// exactly that date; combine WithPeriod, WithEnd, and WithSubStep for
// recurrences. The job's id is assigned on its first Schedule call and stays
// stable afterward.
func (s *Scheduler) Schedule(start Date, job *Job, opts ...ScheduleOption) {
	if job.id < 0 {
		job.id = s.nextJobID
		s.nextJobID++
	}
	sub := submission{start: start, job: job}
	for _, opt := range opts {
		opt(&sub)
	}
	s.submissions = append(s.submissions, sub)
}

// ScheduleJobs registers a list of jobs under one recurrence rule, in list
// order.
func (s *Scheduler) ScheduleJobs(start Date, jobs []*Job, opts ...ScheduleOption) {
	for _, job := range jobs {
		s.Schedule(start, job, opts...)
	}
}

// Build clears epoch and fills it with every job whose recurrence covers
// date, in nondecreasing (subStep, submission index) order. Deterministic:
// the same scheduler state and date always produce the same epoch.
func (s *Scheduler) Build(date Date, epoch *Epoch) {
	epoch.Clear()
	for _, sub := range s.submissions {
		if sub.covers(date) {
			epoch.Submit(sub.job, sub.subStep)
		}
	}
}
