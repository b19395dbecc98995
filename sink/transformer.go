package sink

import (
	"encoding/json"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/engagekit/engrelay/event"
)

func init() {
	RegisterTransformer("json", func() Transformer { return jsonTransformer{} })
	RegisterTransformer("msgpack", func() Transformer { return msgpackTransformer{} })
}

type jsonTransformer struct{}

func (jsonTransformer) Transform(ev event.ChangeEvent) ([]byte, error) {
	return json.Marshal(ev)
}

type msgpackTransformer struct{}

func (msgpackTransformer) Transform(ev event.ChangeEvent) ([]byte, error) {
	return msgpack.Marshal(ev)
}
