package providers

import (
	"github.com/smallbiznis/walue/internal/providers/email"
	"github.com/smallbiznis/walue/internal/providers/janus"
	"github.com/smallbiznis/walue/internal/providers/meta"
	"github.com/smallbiznis/walue/internal/providers/pdf"
	"go.uber.org/fx"
)

var Module = fx.Module("providers",
	email.Module,
	janus.Module,
	meta.Module,
	pdf.Module,
)
