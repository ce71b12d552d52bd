package ucxgo

import "github.com/sirupsen/logrus"

// Logger returns the structured logger this engine was configured with
// (or logrus.StandardLogger() if Config.Logger was left nil), so callers
// embedding the engine can share one logger across their own code and
// the engine's Debug/Warn/Error call sites.
func (e *Engine) Logger() logrus.FieldLogger { return e.log }
