package resource

import "github.com/sarchlab/procsim/sim"

// Hook positions of resources. The hook item is the *Request involved.
var (
	HookPosAcquire  = &sim.HookPos{Name: "ResourceAcquire"}
	HookPosGrant    = &sim.HookPos{Name: "ResourceGrant"}
	HookPosRelease  = &sim.HookPos{Name: "ResourceRelease"}
	HookPosPreempt  = &sim.HookPos{Name: "ResourcePreempt"}
	HookPosWithdraw = &sim.HookPos{Name: "ResourceWithdraw"}
)
