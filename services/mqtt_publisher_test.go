package services

import (
	"testing"

	"github.com/mfrey/minol-monitor/models"
)

func TestMetricTopic(t *testing.T) {
	p := NewMQTTPublisher("tcp://localhost:1883", "test", "minol")

	m := models.Metric{KeyFigure: "HEIZUNG", Name: "current_year"}
	if got := p.MetricTopic(m); got != "minol/heizung/current_year" {
		t.Errorf("MetricTopic = %q", got)
	}

	m = models.Metric{KeyFigure: "KALTWASSER", Name: "building_share"}
	if got := p.MetricTopic(m); got != "minol/kaltwasser/building_share" {
		t.Errorf("MetricTopic = %q", got)
	}
}

func TestMetricTopicDefaultPrefix(t *testing.T) {
	p := NewMQTTPublisher("tcp://localhost:1883", "test", "")

	m := models.Metric{KeyFigure: "WARMWASSER", Name: "din_avg"}
	if got := p.MetricTopic(m); got != "minol/warmwasser/din_avg" {
		t.Errorf("MetricTopic = %q", got)
	}
}

func TestPublishMetricsWhileDisconnected(t *testing.T) {
	p := NewMQTTPublisher("tcp://localhost:1883", "test", "minol")

	// Must be a no-op, not a panic, when no broker is connected.
	p.PublishMetrics([]models.Metric{
		{KeyFigure: "HEIZUNG", Name: "current_year", Value: 1.0, Unit: "kWh"},
	})
	p.Disconnect()
}
