package ref

import (
	"fmt"
	"reflect"
	"sync"
)

// TypeOptions 描述一个可以通过注册表构造的对象
// Namespace 一般是包路径，Type 是类型名，Options 是构造函数的参数
type TypeOptions struct {
	Namespace string `cfg:"namespace"`
	Type      string `cfg:"type"`
	Options   any    `cfg:"options"`
}

// Convertable 可以把自身转换成构造函数参数类型的配置数据
// cfg 解码出来的配置节点实现了这个接口
type Convertable interface {
	ConvertTo(object any) error
}

type constructor struct {
	fn           reflect.Value
	paramType    reflect.Type
	returnsError bool
}

var errorType = reflect.TypeOf((*error)(nil)).Elem()

func newConstructor(newFunc any) (*constructor, error) {
	fn := reflect.ValueOf(newFunc)
	if fn.Kind() != reflect.Func {
		return nil, fmt.Errorf("newFunc must be a function")
	}

	ft := fn.Type()
	if ft.NumIn() > 1 {
		return nil, fmt.Errorf("newFunc must have 0 or 1 input parameters, got %d", ft.NumIn())
	}
	if ft.NumOut() != 1 && ft.NumOut() != 2 {
		return nil, fmt.Errorf("newFunc must have 1 or 2 return values, got %d", ft.NumOut())
	}
	if ft.NumOut() == 2 && !ft.Out(1).Implements(errorType) {
		return nil, fmt.Errorf("second return value must be error type")
	}

	c := &constructor{fn: fn, returnsError: ft.NumOut() == 2}
	if ft.NumIn() == 1 {
		c.paramType = ft.In(0)
	}
	return c, nil
}

func (c *constructor) new(options any) (any, error) {
	var args []reflect.Value
	if c.paramType != nil {
		arg, err := c.argument(options)
		if err != nil {
			return nil, err
		}
		args = []reflect.Value{arg}
	}

	results := c.fn.Call(args)
	if c.returnsError && !results[1].IsNil() {
		return nil, results[1].Interface().(error)
	}
	return results[0].Interface(), nil
}

// argument 把 options 转换成构造函数的参数，nil 时传入参数类型的零值
func (c *constructor) argument(options any) (reflect.Value, error) {
	if options == nil {
		return reflect.Zero(c.paramType), nil
	}

	if convertable, ok := options.(Convertable); ok {
		target := c.paramType
		if target.Kind() == reflect.Ptr {
			target = target.Elem()
		}
		value := reflect.New(target)
		if err := convertable.ConvertTo(value.Interface()); err != nil {
			return reflect.Value{}, fmt.Errorf("failed to convert options to %v: %w", c.paramType, err)
		}
		if c.paramType.Kind() == reflect.Ptr {
			return value, nil
		}
		return value.Elem(), nil
	}

	value := reflect.ValueOf(options)
	if !value.Type().AssignableTo(c.paramType) {
		return reflect.Value{}, fmt.Errorf("options type %v is not assignable to %v", value.Type(), c.paramType)
	}
	return value, nil
}

var constructors sync.Map

func key(namespace, type_ string) string {
	return namespace + ":" + type_
}

// Register 注册构造函数，同一个 key 重复注册同一个函数会被忽略
func Register(namespace string, type_ string, newFunc any) error {
	c, err := newConstructor(newFunc)
	if err != nil {
		return fmt.Errorf("failed to create constructor: %w", err)
	}

	if existing, ok := constructors.Load(key(namespace, type_)); ok {
		if existing.(*constructor).fn.Pointer() == c.fn.Pointer() {
			return nil
		}
		return fmt.Errorf("constructor for %s:%s already registered with different function", namespace, type_)
	}

	constructors.Store(key(namespace, type_), c)
	return nil
}

// RegisterT 以 T 的包路径和类型名作为 namespace 和 type 注册
func RegisterT[T any](newFunc any) error {
	namespace, type_, err := typeKey[T]()
	if err != nil {
		return err
	}
	return Register(namespace, type_, newFunc)
}

func MustRegister(namespace string, type_ string, newFunc any) {
	if err := Register(namespace, type_, newFunc); err != nil {
		panic(err)
	}
}

func MustRegisterT[T any](newFunc any) {
	if err := RegisterT[T](newFunc); err != nil {
		panic(err)
	}
}

// New 通过注册的构造函数创建对象
func New(namespace string, type_ string, options any) (any, error) {
	value, ok := constructors.Load(key(namespace, type_))
	if !ok {
		return nil, fmt.Errorf("constructor not found for %s:%s", namespace, type_)
	}
	return value.(*constructor).new(options)
}

// NewWithOptions 通过 TypeOptions 创建对象
func NewWithOptions(options *TypeOptions) (any, error) {
	if options == nil {
		return nil, fmt.Errorf("type options cannot be nil")
	}
	return New(options.Namespace, options.Type, options.Options)
}

// NewT 以 T 的包路径和类型名创建对象
func NewT[T any](options any) (T, error) {
	var zero T
	namespace, type_, err := typeKey[T]()
	if err != nil {
		return zero, err
	}

	obj, err := New(namespace, type_, options)
	if err != nil {
		return zero, err
	}
	result, ok := obj.(T)
	if !ok {
		return zero, fmt.Errorf("created object is not of type %T", zero)
	}
	return result, nil
}

func typeKey[T any]() (string, string, error) {
	t := reflect.TypeOf((*T)(nil)).Elem()
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if t.PkgPath() == "" || t.Name() == "" {
		return "", "", fmt.Errorf("cannot determine package path or type name for type %v", t)
	}
	return t.PkgPath(), t.Name(), nil
}
