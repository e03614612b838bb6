package daemon

import (
	"bytes"
	"runtime"
	"strconv"
	"sync"
)

// goroutineID extracts the current goroutine's id from the runtime
// stack header. Go offers no reentrant locks, so lock ownership has to
// be tracked explicitly against some notion of the current "thread";
// the goroutine id is the only stable one available.
func goroutineID() uint64 {
	buf := make([]byte, 64)
	buf = buf[:runtime.Stack(buf, false)]
	// Header looks like "goroutine 123 [running]:".
	buf = bytes.TrimPrefix(buf, []byte("goroutine "))
	if i := bytes.IndexByte(buf, ' '); i >= 0 {
		buf = buf[:i]
	}
	id, _ := strconv.ParseUint(string(buf), 10, 64)
	return id
}

// reentrantMutex is a mutual-exclusion lock that the owning goroutine
// may acquire again without deadlocking. It is released only after the
// matching number of Unlock calls.
type reentrantMutex struct {
	mu    sync.Mutex
	cond  *sync.Cond
	owner uint64
	depth int
}

func newReentrantMutex() *reentrantMutex {
	m := &reentrantMutex{}
	m.cond = sync.NewCond(&m.mu)
	return m
}

func (m *reentrantMutex) Lock() {
	gid := goroutineID()

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.owner == gid {
		m.depth++
		return
	}
	for m.owner != 0 {
		m.cond.Wait()
	}
	m.owner = gid
	m.depth = 1
}

func (m *reentrantMutex) Unlock() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.owner != goroutineID() || m.depth <= 0 {
		panic("daemon: unlock of reentrant mutex not held by caller")
	}
	m.depth--
	if m.depth == 0 {
		m.owner = 0
		m.cond.Broadcast()
	}
}

// reentrantRWLock allows shared readers and one exclusive writer. A
// goroutine already holding the read lock may nest further read
// acquisitions; the lock is only released after matching releases. The
// sole reader may also upgrade to the write lock.
type reentrantRWLock struct {
	mu         sync.Mutex
	cond       *sync.Cond
	writer     uint64
	writeDepth int
	readers    map[uint64]int
}

func newReentrantRWLock() *reentrantRWLock {
	l := &reentrantRWLock{readers: make(map[uint64]int)}
	l.cond = sync.NewCond(&l.mu)
	return l
}

func (l *reentrantRWLock) AcquireRead() {
	gid := goroutineID()

	l.mu.Lock()
	defer l.mu.Unlock()

	// Nested reads and reads under our own write lock pass straight
	// through; anyone else's write lock blocks us.
	for l.writer != 0 && l.writer != gid && l.readers[gid] == 0 {
		l.cond.Wait()
	}
	l.readers[gid]++
}

func (l *reentrantRWLock) ReleaseRead() {
	gid := goroutineID()

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.readers[gid] <= 0 {
		panic("daemon: read release without matching acquire")
	}
	l.readers[gid]--
	if l.readers[gid] == 0 {
		delete(l.readers, gid)
		l.cond.Broadcast()
	}
}

func (l *reentrantRWLock) AcquireWrite() {
	gid := goroutineID()

	l.mu.Lock()
	defer l.mu.Unlock()

	for {
		if l.writer == gid {
			l.writeDepth++
			return
		}
		othersReading := len(l.readers) > 1 || (len(l.readers) == 1 && l.readers[gid] == 0)
		if l.writer == 0 && !othersReading {
			l.writer = gid
			l.writeDepth = 1
			return
		}
		l.cond.Wait()
	}
}

func (l *reentrantRWLock) ReleaseWrite() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.writer != goroutineID() || l.writeDepth <= 0 {
		panic("daemon: write release without matching acquire")
	}
	l.writeDepth--
	if l.writeDepth == 0 {
		l.writer = 0
		l.cond.Broadcast()
	}
}
