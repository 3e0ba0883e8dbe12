package translator

import (
	"errors"
	"fmt"
	"math"

	"github.com/Knetic/govaluate"
	"github.com/amimof/huego"

	"harmony-bridge/internal/domain/model"
)

// maxSteps caps the presses one dim request can produce.
const maxSteps = 50

// CustomStrategy maps brightness to a number of Up/Down presses through a
// formula of x (0-254), e.g. "x / 6" for a volume of 0-42.
type CustomStrategy struct{}

func (s *CustomStrategy) ToHue(_ HubState, _ *model.VirtualDevice, last *huego.State) *huego.State {
	state := &huego.State{Reachable: true}
	if last != nil {
		*state = *last
	}
	return state
}

func (s *CustomStrategy) ToHub(u Update, _ HubState, vd *model.VirtualDevice, last *huego.State) ([]model.Command, error) {
	ac := vd.ActionConfig
	if ac == nil || vd.DeviceID == "" {
		return nil, errors.New("custom mapping needs a device id and action config")
	}

	var plan []model.Command
	if u.On != nil {
		switch {
		case *u.On && ac.OnCommand != "" && (last == nil || !last.On):
			plan = append(plan, press(vd.DeviceID, ac.OnCommand))
		case !*u.On && ac.OffCommand != "" && !ac.NoOpOff:
			plan = append(plan, press(vd.DeviceID, ac.OffCommand))
		}
	}

	if u.Bri == nil || ac.StepsFormula == "" {
		return plan, nil
	}
	if ac.UpCommand == "" || ac.DownCommand == "" {
		return nil, errors.New("custom mapping with a steps formula needs up and down commands")
	}

	var from float64
	if last != nil {
		v, err := evaluate(ac.StepsFormula, float64(last.Bri))
		if err != nil {
			return nil, err
		}
		from = v
	}
	to, err := evaluate(ac.StepsFormula, float64(*u.Bri))
	if err != nil {
		return nil, err
	}
	steps := int(math.Round(to) - math.Round(from))

	command := ac.UpCommand
	if steps < 0 {
		command = ac.DownCommand
		steps = -steps
	}
	steps = min(steps, maxSteps)
	for i := 0; i < steps; i++ {
		plan = append(plan, press(vd.DeviceID, command))
	}
	return plan, nil
}

func (s *CustomStrategy) GetMetadata() model.HueMetadata {
	return model.HueMetadata{
		Type:             "Dimmable light",
		ModelID:          "LWB010",
		ManufacturerName: "Philips",
	}
}

// CheckFormula reports whether formula evaluates to a finite number over the
// whole brightness range.
func CheckFormula(formula string) error {
	for _, x := range []float64{0, 127, 254} {
		if _, err := evaluate(formula, x); err != nil {
			return err
		}
	}
	return nil
}

// evaluate handles simple formulas like "x / 6" or "(x - 4) / 25"
func evaluate(formula string, x float64) (float64, error) {
	expression, err := govaluate.NewEvaluableExpression(formula)
	if err != nil {
		return 0, fmt.Errorf("steps formula %q: %w", formula, err)
	}
	result, err := expression.Evaluate(map[string]interface{}{"x": x})
	if err != nil {
		return 0, fmt.Errorf("steps formula %q: %w", formula, err)
	}

	val, ok := result.(float64)
	if !ok || math.IsNaN(val) || math.IsInf(val, 0) {
		return 0, fmt.Errorf("steps formula %q: result %v at x=%v is not a finite number", formula, result, x)
	}
	return val, nil
}
