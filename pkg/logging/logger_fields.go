package logging

import (
	"time"
)

// Common field constructors
func String(key, value string) Field {
	return Field{Key: key, Value: value}
}

func Int(key string, value int) Field {
	return Field{Key: key, Value: value}
}

func Int64(key string, value int64) Field {
	return Field{Key: key, Value: value}
}

func Bool(key string, value bool) Field {
	return Field{Key: key, Value: value}
}

func Duration(key string, value time.Duration) Field {
	return Field{Key: key, Value: value.String()}
}

func Error(err error) Field {
	if err == nil {
		return Field{Key: "error", Value: nil}
	}
	return Field{Key: "error", Value: err.Error()}
}

func Any(key string, value any) Field {
	return Field{Key: key, Value: value}
}

// Component names the subsystem emitting the entry
func Component(name string) Field {
	return String("component", name)
}

// Cluster scopes an entry to a cluster name
func Cluster(name string) Field {
	return String("cluster", name)
}

// Node scopes an entry to a registered node id
func Node(id int) Field {
	return Int("node", id)
}

// Host scopes an entry to a server host
func Host(host string) Field {
	return String("host", host)
}
