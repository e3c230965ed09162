package metrics

import (
	"sync"
	"time"

	"liqflow/logger"
)

// Metric is one emitted metric event: a collection cycle finishing, wallets
// scanned, positions dropped. The Prometheus collectors cover the steady
// pipeline gauges; events additionally fan out to any handlers registered
// here, which is how the CloudWatch publisher and tests observe them.
type Metric struct {
	Timestamp time.Time
	Component string
	Name      string
	Value     interface{}
	Type      string
	Fields    logger.Fields
}

// MetricHandler consumes metric events. Handlers run synchronously on the
// emitting goroutine and should hand anything slow off to their own.
type MetricHandler func(Metric)

// MetricHandlerID identifies a registered handler for later removal.
type MetricHandlerID uint64

type handlerRegistry struct {
	mu       sync.RWMutex
	handlers map[MetricHandlerID]MetricHandler
	nextID   MetricHandlerID
}

var registry = newHandlerRegistry()

func newHandlerRegistry() *handlerRegistry {
	return &handlerRegistry{handlers: make(map[MetricHandlerID]MetricHandler)}
}

func (r *handlerRegistry) add(handler MetricHandler) MetricHandlerID {
	if handler == nil {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	id := r.nextID
	r.handlers[id] = handler
	return id
}

func (r *handlerRegistry) remove(id MetricHandlerID) {
	if id == 0 {
		return
	}
	r.mu.Lock()
	delete(r.handlers, id)
	r.mu.Unlock()
}

// dispatch calls every handler outside the lock so a handler may register
// or unregister without deadlocking.
func (r *handlerRegistry) dispatch(metric Metric) {
	r.mu.RLock()
	handlers := make([]MetricHandler, 0, len(r.handlers))
	for _, handler := range r.handlers {
		handlers = append(handlers, handler)
	}
	r.mu.RUnlock()

	for _, handler := range handlers {
		handler(metric)
	}
}

// RegisterMetricHandler subscribes a handler to every emitted metric. A nil
// handler is ignored and gets the zero identifier.
func RegisterMetricHandler(handler MetricHandler) MetricHandlerID {
	return registry.add(handler)
}

// UnregisterMetricHandler removes the handler registered under id.
func UnregisterMetricHandler(id MetricHandlerID) {
	registry.remove(id)
}

// recordMetric logs the metric as a structured entry and fans it out to the
// registered handlers. The caller's fields map is never mutated.
func recordMetric(log *logger.Log, component, name string, value interface{}, metricType string, fields logger.Fields) (Metric, bool) {
	if name == "" {
		return Metric{}, false
	}
	if metricType == "" {
		metricType = "counter"
	}

	userFields := cloneFields(fields)

	if log == nil {
		log = logger.GetLogger()
	}

	logFields := make(logger.Fields, len(userFields)+3)
	for k, v := range userFields {
		logFields[k] = v
	}
	logFields["metric"] = name
	logFields["metric_type"] = metricType
	logFields["value"] = value

	log.WithComponent(component).WithFields(logFields).Info("metric")

	metric := Metric{
		Timestamp: time.Now(),
		Component: component,
		Name:      name,
		Value:     value,
		Type:      metricType,
		Fields:    userFields,
	}

	registry.dispatch(metric)
	return metric, true
}

func cloneFields(fields logger.Fields) logger.Fields {
	copied := make(logger.Fields, len(fields))
	for k, v := range fields {
		copied[k] = v
	}
	return copied
}
