package handlers

import (
	"github.com/anjiri1684/tutorhub/services"
	"github.com/gofiber/fiber/v2"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

type BillingDeps struct {
	Service *services.BillingService
	Log     *zap.Logger
}

// RunBilling is the scheduler's trigger. It takes no body; a run that is
// already in progress answers 409.
func RunBilling(d BillingDeps) fiber.Handler {
	return func(c *fiber.Ctx) error {
		res, err := d.Service.RunBatch(c.UserContext())
		if errors.Is(err, services.ErrRunInProgress) {
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": err.Error()})
		}
		if err != nil {
			return respondError(c, d.Log, err)
		}
		return c.JSON(res)
	}
}

func ListPastDueSubscriptions(d BillingDeps) fiber.Handler {
	return func(c *fiber.Ctx) error {
		subs, err := d.Service.ListPastDue(c.UserContext())
		if err != nil {
			return respondError(c, d.Log, err)
		}
		return c.JSON(subs)
	}
}

func ResumeSubscription(d BillingDeps) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, ok := paramUUID(c, "id")
		if !ok {
			return badRequest(c, "Invalid subscription ID")
		}
		sub, err := d.Service.Resume(c.UserContext(), id)
		if err != nil {
			return respondError(c, d.Log, err)
		}
		return c.JSON(sub)
	}
}
