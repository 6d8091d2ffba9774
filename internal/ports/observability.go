package ports

type Observability interface {
	LogInfo(msg string, fields ...Field)
	LogError(msg string, err error, fields ...Field)
	LogCritical(msg string, err error, fields ...Field)

	// Fields whose keys match a metric's label names become label values.
	IncCounter(name string, v float64, fields ...Field)
	ObserveLatency(name string, seconds float64, fields ...Field)

	SetGauge(name string, v float64, fields ...Field)
}

type Field struct {
	Key   string
	Value any
}

func F(key string, value any) Field { return Field{Key: key, Value: value} }
