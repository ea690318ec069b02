package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"reflect"
)

// Envelope 是 API 成功响应的外层结构，envelope 编码的正文与其字节一致，命中时可直接作为响应体。
type Envelope struct {
	Data any `json:"data"`
}

type rawEnvelope struct {
	Data json.RawMessage `json:"data"`
}

type metadata struct {
	TimeStamp float64  `json:"time_stamp"`
	Data      string   `json:"data"`
	Encoding  Encoding `json:"encoding"`
}

var errCorrupted = errors.New("corrupted cache metadata")

// encodeValue 根据值的形态选择编码：[]byte 原样保存，集合类包一层 envelope，其余按标量编码。
func encodeValue(value any) (Encoding, []byte, error) {
	if raw, ok := value.([]byte); ok {
		return EncodingRaw, raw, nil
	}
	if isCollection(value) {
		body, err := json.Marshal(Envelope{Data: value})
		if err != nil {
			return "", nil, fmt.Errorf("encode cache payload: %w", err)
		}
		return EncodingEnvelope, body, nil
	}
	body, err := json.Marshal(value)
	if err != nil {
		return "", nil, fmt.Errorf("encode cache payload: %w", err)
	}
	return EncodingScalar, body, nil
}

func isCollection(value any) bool {
	rv := reflect.ValueOf(value)
	for rv.IsValid() && (rv.Kind() == reflect.Pointer || rv.Kind() == reflect.Interface) {
		if rv.IsNil() {
			return false
		}
		rv = rv.Elem()
	}
	if !rv.IsValid() {
		return false
	}
	switch rv.Kind() {
	case reflect.Map, reflect.Slice, reflect.Array, reflect.Struct:
		return true
	}
	return false
}

// Decode 读取命中的正文并按元数据中的编码解码到 out。
func Decode(result *ReadResult, out any) error {
	if result == nil || result.Reader == nil {
		return ErrNotFound
	}
	if _, err := result.Reader.Seek(0, io.SeekStart); err != nil {
		return err
	}
	body, err := io.ReadAll(result.Reader)
	if err != nil {
		return err
	}
	return decodePayload(result.Entry.Encoding, body, out)
}

func decodePayload(encoding Encoding, body []byte, out any) error {
	switch encoding {
	case EncodingEnvelope:
		var env rawEnvelope
		if err := json.Unmarshal(body, &env); err != nil {
			return fmt.Errorf("decode cache envelope: %w", err)
		}
		if len(env.Data) == 0 {
			return errors.New("cache envelope has no data field")
		}
		return json.Unmarshal(env.Data, out)
	case EncodingScalar:
		return json.Unmarshal(body, out)
	case EncodingRaw:
		target, ok := out.(*[]byte)
		if !ok {
			return fmt.Errorf("raw cache payload cannot decode into %T", out)
		}
		*target = append((*target)[:0], body...)
		return nil
	default:
		return fmt.Errorf("unknown cache encoding %q", encoding)
	}
}

func parseMetadata(body []byte) (metadata, error) {
	var meta metadata
	if err := json.Unmarshal(body, &meta); err != nil {
		return metadata{}, fmt.Errorf("%w: %v", errCorrupted, err)
	}
	if meta.Data == "" || !meta.Encoding.Valid() {
		return metadata{}, errCorrupted
	}
	return meta, nil
}
