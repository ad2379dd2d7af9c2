package rabbitmq

import (
	"testing"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
)

func TestIndexOfReadsHeaderAcrossIntWidths(t *testing.T) {
	cases := []struct {
		name string
		hdr  interface{}
		want int64
	}{
		{"int64", int64(42), 42},
		{"int32", int32(7), 7},
		{"int", int(9), 9},
	}

	for _, c := range cases {
		d := amqp.Delivery{Headers: amqp.Table{"x-dogma-index": c.hdr}}
		assert.Equal(t, c.want, indexOf(d), c.name)
	}
}

func TestIndexOfMissingHeaderIsZero(t *testing.T) {
	d := amqp.Delivery{Headers: amqp.Table{}}
	assert.Equal(t, int64(0), indexOf(d))
}

func TestIndexOfUnrecognizedTypeIsZero(t *testing.T) {
	d := amqp.Delivery{Headers: amqp.Table{"x-dogma-index": "not-a-number"}}
	assert.Equal(t, int64(0), indexOf(d))
}
