package worker

import "github.com/hatlonely/uidgen/ref"

func init() {
	ref.MustRegister("github.com/hatlonely/uidgen/uid/worker", "FixedAssigner", NewFixedAssignerWithOptions)
	ref.MustRegister("github.com/hatlonely/uidgen/uid/worker", "IPAssigner", NewIPAssigner)
	ref.MustRegister("github.com/hatlonely/uidgen/uid/worker", "LeaseAssigner", NewLeaseAssignerWithOptions)

	ref.MustRegister("github.com/hatlonely/uidgen/uid/worker", "RedisLeaseStore", NewRedisLeaseStoreWithOptions)
}
