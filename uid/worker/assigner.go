package worker

import (
	"context"
	"net"

	"github.com/pkg/errors"
)

var (
	ErrNoAvailableWorkerID = errors.New("no available worker id")
	ErrWorkerIDExhausted   = errors.New("worker id exhausted")
)

// Assigner 为节点分配 worker id
type Assigner interface {
	// AssignWorkerID 分配一个 [0, maxWorkerID] 范围内的 worker id
	AssignWorkerID(ctx context.Context, maxWorkerID int64) (int64, error)
	Close() error
}

type FixedAssignerOptions struct {
	WorkerID int64 `cfg:"workerId" validate:"gte=0"`
}

// FixedAssigner 使用配置的 worker id
type FixedAssigner struct {
	workerID int64
}

func NewFixedAssignerWithOptions(options *FixedAssignerOptions) (*FixedAssigner, error) {
	if options == nil {
		options = &FixedAssignerOptions{}
	}
	if options.WorkerID < 0 {
		return nil, errors.Errorf("invalid worker id %d", options.WorkerID)
	}
	return &FixedAssigner{workerID: options.WorkerID}, nil
}

func (a *FixedAssigner) AssignWorkerID(ctx context.Context, maxWorkerID int64) (int64, error) {
	if a.workerID > maxWorkerID {
		return 0, errors.Wrapf(ErrWorkerIDExhausted, "worker id %d exceeds max %d", a.workerID, maxWorkerID)
	}
	return a.workerID, nil
}

func (a *FixedAssigner) Close() error {
	return nil
}

// IPAssigner 取本机第一个非回环 IPv4 地址的低 16 位，对 maxWorkerID+1 取模
type IPAssigner struct {
	interfaceAddrs func() ([]net.Addr, error)
}

func NewIPAssigner() *IPAssigner {
	return &IPAssigner{interfaceAddrs: net.InterfaceAddrs}
}

func (a *IPAssigner) AssignWorkerID(ctx context.Context, maxWorkerID int64) (int64, error) {
	addrs, err := a.interfaceAddrs()
	if err != nil {
		return 0, errors.Wrap(err, "net.InterfaceAddrs failed")
	}

	for _, addr := range addrs {
		if ipnet, ok := addr.(*net.IPNet); ok && !ipnet.IP.IsLoopback() {
			if ipv4 := ipnet.IP.To4(); ipv4 != nil {
				return (int64(ipv4[2])<<8 | int64(ipv4[3])) % (maxWorkerID + 1), nil
			}
		}
	}

	return 0, errors.Wrap(ErrNoAvailableWorkerID, "no non-loopback ipv4 address")
}

func (a *IPAssigner) Close() error {
	return nil
}
