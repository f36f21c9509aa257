package application

import "time"

// SpeedService calcula o atraso progressivo do slow-down.
//
// Nunca rejeita: até DelayAfter requests na janela o atraso é zero; a partir
// daí cresce DelayStep por request excedente, limitado a MaxDelay.
type SpeedService struct {
	DelayAfter int
	DelayStep  time.Duration
	MaxDelay   time.Duration
}

func (s SpeedService) Delay(count int) time.Duration {
	if s.DelayStep <= 0 || count <= s.DelayAfter {
		return 0
	}
	over := count - s.DelayAfter
	d := time.Duration(over) * s.DelayStep
	if s.MaxDelay > 0 && (d > s.MaxDelay || d/time.Duration(over) != s.DelayStep) {
		// segunda condição cobre overflow da multiplicação
		return s.MaxDelay
	}
	return d
}
