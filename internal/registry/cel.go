package registry

import (
	"fmt"

	"github.com/google/cel-go/cel"

	"github.com/ppiankov/crewclaims/internal/model"
)

// celCostLimit caps evaluation work for a single conditional rule.
const celCostLimit = 10000

func newEnv() (*cel.Env, error) {
	return cel.NewEnv(
		cel.Variable("claim", cel.DynType),
		cel.Variable("trip", cel.DynType),
		cel.Variable("has_trip", cel.BoolType),
	)
}

func compile(env *cel.Env, expr string) (cel.Program, error) {
	if expr == "" {
		return nil, fmt.Errorf("empty when expression")
	}
	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compile %q: %w", expr, issues.Err())
	}
	prg, err := env.Program(ast,
		cel.InterruptCheckFrequency(100),
		cel.CostLimit(celCostLimit),
	)
	if err != nil {
		return nil, fmt.Errorf("program %q: %w", expr, err)
	}
	return prg, nil
}

func eval(prg cel.Program, vars map[string]any) (bool, error) {
	out, _, err := prg.Eval(vars)
	if err != nil {
		return false, fmt.Errorf("eval: %w", err)
	}
	val, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("result not bool")
	}
	return val, nil
}

// activation exposes claim and trip to rule expressions using the same
// field names as the JSON encoding.
func activation(claim model.ClaimInput, trip *model.TripData) map[string]any {
	amount, _ := claim.Amount.Float64()
	vars := map[string]any{
		"claim": map[string]any{
			"id":           claim.ID,
			"claimNumber":  claim.ClaimNumber,
			"crewMemberId": claim.CrewMemberID,
			"type":         string(claim.Type),
			"tripId":       claim.TripID,
			"flightNumber": claim.FlightNumber,
			"amount":       amount,
			"description":  claim.Description,
		},
		"trip":     map[string]any{},
		"has_trip": trip != nil,
	}
	if trip != nil {
		vars["trip"] = map[string]any{
			"id":             trip.ID,
			"tripNumber":     trip.TripNumber,
			"flightNumbers":  append([]string{}, trip.FlightNumbers...),
			"origin":         trip.Origin,
			"destination":    trip.Destination,
			"blockMinutes":   int64(trip.BlockMinutes),
			"creditMinutes":  int64(trip.CreditMinutes),
			"dutyMinutes":    int64(trip.DutyMinutes),
			"layoverMinutes": int64(trip.LayoverMinutes),
			"international":  trip.International,
		}
	}
	return vars
}
