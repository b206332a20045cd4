package config

import "time"

// Recognized asyncio entry points. The front-end maps call sites onto these
// names before segmentation; manifests may use either the short or the
// qualified form.
const (
	SleepFuncName      = "asyncio.sleep"
	GatherFuncName     = "asyncio.gather"
	CreateTaskFuncName = "asyncio.create_task"
	RunFuncName        = "asyncio.run"
	QueueTypeName      = "asyncio.Queue"
)

// MinPoolSize is the smallest worker pool a scheduler accepts.
const MinPoolSize = 1

// NetpollInterval is how long the netpoller driver sleeps between poll
// passes over a still-pending frame set.
const NetpollInterval = 100 * time.Microsecond

// GeneratedFileSuffix is appended to per-function emitted source files.
const GeneratedFileSuffix = ".gen.c"

// GeneratedRuntimeHeader is the include pulled into every emitted file.
const GeneratedRuntimeHeader = "pylift_rt.h"

// CacheSchemaVersion is bumped whenever the emitted-code shape changes in a
// way that invalidates previously cached artifacts.
const CacheSchemaVersion = 2

// ManifestFileExt is the recognized unit manifest extension.
const ManifestFileExt = ".yaml"
