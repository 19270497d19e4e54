package vm

import "github.com/tliron/commonlog"

var (
	log      = commonlog.GetLogger("cldc.vm")
	jitLog   = commonlog.GetLogger("cldc.vm.jit")
	schedLog = commonlog.GetLogger("cldc.vm.sched")
)
