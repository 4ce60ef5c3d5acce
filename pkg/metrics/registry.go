// Copyright (C) 2023  mieru authors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package metrics

import (
	"sync"
	"sync/atomic"
)

// Counter holds a named int64 value that can't decrease.
type Counter struct {
	name  string
	value atomic.Int64
}

var _ Metric = &Counter{}

func (c *Counter) Name() string     { return c.name }
func (c *Counter) Type() MetricType { return COUNTER }

func (c *Counter) Add(delta int64) int64 {
	if delta < 0 {
		panic("can't add a negative value to Counter")
	}
	return c.value.Add(delta)
}

func (c *Counter) Load() int64 { return c.value.Load() }

func (c *Counter) Store(val int64) {
	panic("Store() is not supported by Counter")
}

var metricMap sync.Map

// RegisterMetric registers a new metric under the given group and returns it.
// The caller must not take ownership of the returned value; registering the
// same group and name more than once returns the first registered metric.
func RegisterMetric(groupName, metricName string, t MetricType) Metric {
	group, _ := metricMap.LoadOrStore(groupName, &MetricGroup{name: groupName})
	metricGroup := group.(*MetricGroup)
	metricGroup.EnableLogging()

	var fresh Metric
	switch t {
	case GAUGE:
		fresh = &Gauge{name: metricName}
	default:
		fresh = &Counter{name: metricName}
	}
	metric, _ := metricGroup.metrics.LoadOrStore(metricName, fresh)
	return metric.(Metric)
}

// GetMetricGroupByName returns the MetricGroup by name, or nil if not found.
func GetMetricGroupByName(groupName string) *MetricGroup {
	group, ok := metricMap.Load(groupName)
	if !ok {
		return nil
	}
	return group.(*MetricGroup)
}
