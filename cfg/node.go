package cfg

import (
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// Node 解码后的配置数据，由 map[string]any、[]any 和标量组成
// Node 实现了 ref.Convertable，可以直接作为 ref.TypeOptions.Options 使用
type Node struct {
	data any
}

func NewNode(data any) *Node {
	return &Node{data: data}
}

// Data 返回原始数据
func (n *Node) Data() any {
	if n == nil {
		return nil
	}
	return n.data
}

// Sub 获取子节点，key 使用点号分隔，大小写不敏感
func (n *Node) Sub(key string) *Node {
	if key == "" {
		return n
	}
	current := n.Data()
	for _, k := range strings.Split(key, ".") {
		m, ok := current.(map[string]any)
		if !ok {
			return NewNode(nil)
		}
		current = lookup(m, k)
	}
	return NewNode(current)
}

// ConvertTo 把配置数据转换成 object，然后设置默认值并校验
func (n *Node) ConvertTo(object any) error {
	rv := reflect.ValueOf(object)
	if rv.Kind() != reflect.Ptr || rv.IsNil() {
		return errors.New("object must be a non-nil pointer")
	}
	if err := convert(n.Data(), rv.Elem()); err != nil {
		return err
	}
	if err := SetDefaults(object); err != nil {
		return errors.WithMessage(err, "SetDefaults failed")
	}
	if err := Validate(object); err != nil {
		return errors.WithMessage(err, "Validate failed")
	}
	return nil
}

func lookup(m map[string]any, key string) any {
	if v, ok := m[key]; ok {
		return v
	}
	for k, v := range m {
		if strings.EqualFold(k, key) {
			return v
		}
	}
	return nil
}

func convert(src any, dst reflect.Value) error {
	if src == nil {
		return nil
	}
	if n, ok := src.(*Node); ok {
		return convert(n.Data(), dst)
	}

	if dst.Kind() == reflect.Ptr {
		if dst.IsNil() {
			dst.Set(reflect.New(dst.Type().Elem()))
		}
		return convert(src, dst.Elem())
	}

	sv := reflect.ValueOf(src)

	switch dst.Kind() {
	case reflect.Interface:
		// 嵌套的 map/slice 保留为 Node，交给最终的构造函数按自己的参数类型转换
		switch src.(type) {
		case map[string]any, []any:
			dst.Set(reflect.ValueOf(NewNode(src)))
		default:
			dst.Set(sv)
		}
		return nil
	case reflect.Struct:
		if m, ok := src.(map[string]any); ok {
			return convertStruct(m, dst)
		}
	case reflect.Map:
		if m, ok := src.(map[string]any); ok {
			return convertMap(m, dst)
		}
	case reflect.Slice:
		if s, ok := src.([]any); ok {
			slice := reflect.MakeSlice(dst.Type(), len(s), len(s))
			for i := range s {
				if err := convert(s[i], slice.Index(i)); err != nil {
					return errors.WithMessagef(err, "index %d", i)
				}
			}
			dst.Set(slice)
			return nil
		}
	}

	if t, ok := src.(time.Time); ok && dst.Kind() == reflect.String {
		dst.SetString(t.Format("2006-01-02"))
		return nil
	}
	if str, ok := src.(string); ok && dst.Kind() != reflect.String {
		return setValue(dst, str)
	}
	if dst.Kind() == reflect.String && sv.Kind() != reflect.String {
		dst.SetString(fmt.Sprint(src))
		return nil
	}
	if sv.Type().AssignableTo(dst.Type()) {
		dst.Set(sv)
		return nil
	}
	if sv.Type().ConvertibleTo(dst.Type()) {
		dst.Set(sv.Convert(dst.Type()))
		return nil
	}
	return errors.Errorf("cannot convert %v to %v", sv.Type(), dst.Type())
}

func convertStruct(src map[string]any, dst reflect.Value) error {
	rt := dst.Type()
	for i := 0; i < rt.NumField(); i++ {
		field := rt.Field(i)
		fv := dst.Field(i)
		if !fv.CanSet() {
			continue
		}

		name := field.Name
		if tag := strings.Split(field.Tag.Get("cfg"), ",")[0]; tag == "-" {
			continue
		} else if tag != "" {
			name = tag
		}

		if v := lookup(src, name); v != nil {
			if err := convert(v, fv); err != nil {
				return errors.WithMessagef(err, "field %s", name)
			}
		}
	}
	return nil
}

func convertMap(src map[string]any, dst reflect.Value) error {
	if dst.Type().Key().Kind() != reflect.String {
		return errors.Errorf("unsupported map key type %v", dst.Type().Key())
	}
	if dst.IsNil() {
		dst.Set(reflect.MakeMap(dst.Type()))
	}
	for k, v := range src {
		elem := reflect.New(dst.Type().Elem()).Elem()
		if err := convert(v, elem); err != nil {
			return errors.WithMessagef(err, "key %s", k)
		}
		dst.SetMapIndex(reflect.ValueOf(k).Convert(dst.Type().Key()), elem)
	}
	return nil
}
