// Package routing classifies configured operations and links consumers to the
// producers they launch. A Table is immutable once built.
package routing

import (
	"errors"
	"fmt"

	errspkg "github.com/kemock/kem/internal/runtime/errors"
	"github.com/kemock/kem/internal/runtime/operations"
)

// Table indexes operations by id and consumers by topic, and records which
// producers fire at startup.
type Table struct {
	topics     []string
	kinds      map[string]operations.Kind
	producers  map[string]*operations.ProducerOperation
	consumers  map[string]*operations.ConsumerOperation
	byTopic    map[string][]string
	topicOrder []string
	startup    []string
	triggered  []string
	isStartup  map[string]bool
}

// Build validates the definitions and returns the routing table. Every
// violation is collected; the returned error joins them so errors.Is matches
// each sentinel.
func Build(topics []string, producers []*operations.ProducerOperation, consumers []*operations.ConsumerOperation) (*Table, error) {
	t := &Table{
		topics:    append([]string(nil), topics...),
		kinds:     make(map[string]operations.Kind, len(producers)+len(consumers)),
		producers: make(map[string]*operations.ProducerOperation, len(producers)),
		consumers: make(map[string]*operations.ConsumerOperation, len(consumers)),
		byTopic:   make(map[string][]string),
		isStartup: make(map[string]bool, len(producers)),
	}

	declared := make(map[string]struct{}, len(topics))
	for _, topic := range topics {
		declared[topic] = struct{}{}
	}

	var errs []error
	checkCommon := func(op operations.Operation, kind operations.Kind) bool {
		if op.OperationID == "" {
			return false
		}
		if _, dup := t.kinds[op.OperationID]; dup {
			errs = append(errs, errspkg.NewConfigError(op.OperationID, "operationId", errspkg.ErrDuplicateOperationID,
				fmt.Sprintf("%s reuses an id already declared as %s", kind, t.kinds[op.OperationID])))
			return false
		}
		if op.Topic != "" {
			if _, ok := declared[op.Topic]; !ok {
				errs = append(errs, errspkg.NewConfigError(op.OperationID, "topic", errspkg.ErrUnknownTopic,
					fmt.Sprintf("topic %q must be listed in event.topics", op.Topic)))
			}
		}
		t.kinds[op.OperationID] = kind
		return true
	}

	var producerOrder []string
	for _, p := range producers {
		if p == nil {
			continue
		}
		if err := p.Validate(); err != nil {
			errs = append(errs, err)
		}
		if !checkCommon(p.Operation, operations.KindProducer) {
			continue
		}
		t.producers[p.OperationID] = p
		producerOrder = append(producerOrder, p.OperationID)
	}

	launched := make(map[string]struct{})
	for _, c := range consumers {
		if c == nil {
			continue
		}
		c.Normalize()
		if err := c.Validate(); err != nil {
			errs = append(errs, err)
		}
		if !checkCommon(c.Operation, operations.KindConsumer) {
			continue
		}
		t.consumers[c.OperationID] = c
		if c.Topic != "" {
			if _, seen := t.byTopic[c.Topic]; !seen {
				t.topicOrder = append(t.topicOrder, c.Topic)
			}
			t.byTopic[c.Topic] = append(t.byTopic[c.Topic], c.OperationID)
		}
		for _, id := range c.LaunchOperationIDs {
			launched[id] = struct{}{}
		}
	}

	// Launch ids are checked after every operation is indexed so forward
	// references within the consumer list resolve.
	for _, c := range consumers {
		if c == nil || t.consumers[c.OperationID] != c {
			continue
		}
		for _, id := range c.LaunchOperationIDs {
			if id == "" {
				continue
			}
			if kind := t.kinds[id]; kind != operations.KindProducer {
				detail := fmt.Sprintf("%q is not a declared producer", id)
				if kind == operations.KindConsumer {
					detail = fmt.Sprintf("%q is a consumer, only producers can be launched", id)
				}
				errs = append(errs, errspkg.NewConfigError(c.OperationID, "launchOperationIds", errspkg.ErrUnknownLaunchOperation, detail))
			}
		}
	}

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}

	for _, id := range producerOrder {
		if _, ok := launched[id]; ok {
			t.triggered = append(t.triggered, id)
			continue
		}
		t.startup = append(t.startup, id)
		t.isStartup[id] = true
	}
	return t, nil
}

// Kind reports whether id names a producer, a consumer, or nothing.
func (t *Table) Kind(id string) operations.Kind { return t.kinds[id] }

func (t *Table) Producer(id string) (*operations.ProducerOperation, bool) {
	p, ok := t.producers[id]
	return p, ok
}

func (t *Table) Consumer(id string) (*operations.ConsumerOperation, bool) {
	c, ok := t.consumers[id]
	return c, ok
}

// ConsumersForTopic returns the consumers bound to topic in configuration
// order, or nil when no consumer listens on it.
func (t *Table) ConsumersForTopic(topic string) []*operations.ConsumerOperation {
	ids := t.byTopic[topic]
	if len(ids) == 0 {
		return nil
	}
	out := make([]*operations.ConsumerOperation, len(ids))
	for i, id := range ids {
		out[i] = t.consumers[id]
	}
	return out
}

// StartupProducers returns producers no consumer launches, in configuration order.
func (t *Table) StartupProducers() []*operations.ProducerOperation {
	return t.lookupProducers(t.startup)
}

// TriggeredProducers returns producers launched by at least one consumer.
func (t *Table) TriggeredProducers() []*operations.ProducerOperation {
	return t.lookupProducers(t.triggered)
}

func (t *Table) IsStartupProducer(id string) bool { return t.isStartup[id] }

// ConsumerTopics is the union of consumer topics, in first-seen order.
func (t *Table) ConsumerTopics() []string { return append([]string(nil), t.topicOrder...) }

// Topics is the declared topic list.
func (t *Table) Topics() []string { return append([]string(nil), t.topics...) }

func (t *Table) lookupProducers(ids []string) []*operations.ProducerOperation {
	out := make([]*operations.ProducerOperation, len(ids))
	for i, id := range ids {
		out[i] = t.producers[id]
	}
	return out
}
