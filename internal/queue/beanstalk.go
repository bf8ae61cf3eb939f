package queue

import (
	"errors"
	"fmt"
	"sync"
	"time"

	retry "github.com/avast/retry-go"
	"github.com/beanstalkd/go-beanstalk"
)

const defaultPriority = 1024

// Beanstalk adapts a beanstalkd tube to the Queue contract. The
// connection is an explicit handle owned by the caller. All methods are
// safe for concurrent use; a broken connection is redialed on the next
// operation.
type Beanstalk struct {
	addr string
	tube string
	ttr  time.Duration

	mu      sync.Mutex
	conn    *beanstalk.Conn
	putTube *beanstalk.Tube
	tubeSet *beanstalk.TubeSet
}

// DialBeanstalk connects to beanstalkd at addr and binds to the named
// tube for both producing and consuming. ttr is the reservation
// time-to-run after which an undeleted item becomes reservable again.
func DialBeanstalk(addr, tube string, ttr time.Duration) (*Beanstalk, error) {
	b := &Beanstalk{addr: addr, tube: tube, ttr: ttr}
	if err := b.redial(); err != nil {
		return nil, err
	}
	return b, nil
}

func (b *Beanstalk) redial() error {
	if b.conn != nil {
		b.conn.Close()
		b.conn = nil
	}
	conn, err := beanstalk.Dial("tcp", b.addr)
	if err != nil {
		return fmt.Errorf("queue: dial beanstalkd at %s: %w", b.addr, err)
	}
	b.conn = conn
	b.putTube = beanstalk.NewTube(conn, b.tube)
	b.tubeSet = beanstalk.NewTubeSet(conn, b.tube)
	return nil
}

// do runs op, redialing and retrying on connection errors. Timeouts and
// protocol errors are not retried.
func (b *Beanstalk) do(op func() error) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return retry.Do(
		func() error {
			if b.conn == nil {
				if err := b.redial(); err != nil {
					return err
				}
			}
			err := op()
			if isConnError(err) {
				b.conn.Close()
				b.conn = nil
			}
			return err
		},
		retry.Attempts(3),
		retry.Delay(250*time.Millisecond),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			return isConnError(err)
		}),
	)
}

func isConnError(err error) bool {
	if err == nil {
		return false
	}
	var cerr beanstalk.ConnError
	if errors.As(err, &cerr) {
		// A reserve timeout arrives as a ConnError carrying ErrTimeout
		// but means "no work", not "connection broken".
		return !errors.Is(cerr.Err, beanstalk.ErrTimeout) && !errors.Is(cerr.Err, beanstalk.ErrDeadline)
	}
	return false
}

func isTimeout(err error) bool {
	var cerr beanstalk.ConnError
	if errors.As(err, &cerr) {
		return errors.Is(cerr.Err, beanstalk.ErrTimeout) || errors.Is(cerr.Err, beanstalk.ErrDeadline)
	}
	return errors.Is(err, beanstalk.ErrTimeout)
}

func (b *Beanstalk) Put(body []byte) (uint64, error) {
	var id uint64
	err := b.do(func() error {
		var err error
		id, err = b.putTube.Put(body, defaultPriority, 0, b.ttr)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("queue: put on tube %s: %w", b.tube, err)
	}
	return id, nil
}

func (b *Beanstalk) Reserve(timeout time.Duration) (*Item, error) {
	var item Item
	err := b.do(func() error {
		id, body, err := b.tubeSet.Reserve(timeout)
		if err != nil {
			return err
		}
		item = Item{ID: id, Body: body}
		return nil
	})
	if err != nil {
		if isTimeout(err) {
			return nil, ErrTimeout
		}
		return nil, fmt.Errorf("queue: reserve from tube %s: %w", b.tube, err)
	}
	return &item, nil
}

func (b *Beanstalk) Delete(id uint64) error {
	err := b.do(func() error { return b.conn.Delete(id) })
	if err != nil {
		return fmt.Errorf("queue: delete item %d: %w", id, err)
	}
	return nil
}

func (b *Beanstalk) Release(id uint64, delay time.Duration) error {
	err := b.do(func() error { return b.conn.Release(id, defaultPriority, delay) })
	if err != nil {
		return fmt.Errorf("queue: release item %d: %w", id, err)
	}
	return nil
}

func (b *Beanstalk) Stats() (Stats, error) {
	var raw map[string]string
	err := b.do(func() error {
		var err error
		raw, err = b.putTube.Stats()
		return err
	})
	if err != nil {
		return Stats{}, fmt.Errorf("queue: stats for tube %s: %w", b.tube, err)
	}
	return Stats{
		Connected: true,
		Watchers:  statInt(raw, "current-watching"),
		Ready:     statInt(raw, "current-jobs-ready"),
		Reserved:  statInt(raw, "current-jobs-reserved"),
	}, nil
}

func statInt(stats map[string]string, key string) int {
	var n int
	fmt.Sscanf(stats[key], "%d", &n)
	return n
}

func (b *Beanstalk) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.conn == nil {
		return nil
	}
	err := b.conn.Close()
	b.conn = nil
	return err
}
