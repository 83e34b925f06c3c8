package controller

import (
	"section-collab-be/internal/dto"
	"section-collab-be/internal/pkg/serverutils"
	"section-collab-be/internal/service"
	"section-collab-be/pkg/collaberr"

	"github.com/gofiber/fiber/v2"
)

type ISectionController interface {
	RegisterRoutes(r fiber.Router)
	Commit(ctx *fiber.Ctx) error
	AcquireLock(ctx *fiber.Ctx) error
	ReleaseLock(ctx *fiber.Ctx) error
	ActiveLocks(ctx *fiber.Ctx) error
}

type sectionController struct {
	collabService service.ICollaborationService
	jwt           fiber.Handler
}

func NewSectionController(collabService service.ICollaborationService, jwt fiber.Handler) ISectionController {
	return &sectionController{
		collabService: collabService,
		jwt:           jwt,
	}
}

func (c *sectionController) RegisterRoutes(r fiber.Router) {
	h := r.Group("/documents/v1")
	h.Put(":id/sections/:sectionId", c.jwt, c.Commit)
	h.Post(":id/sections/:sectionId/lock", c.jwt, c.AcquireLock)
	h.Delete(":id/sections/:sectionId/lock", c.jwt, c.ReleaseLock)
	h.Get(":id/locks", c.jwt, c.ActiveLocks)
}

func (c *sectionController) Commit(ctx *fiber.Ctx) error {
	id, err := documentID(ctx)
	if err != nil {
		return err
	}

	var req dto.CommitSectionRequest
	if err := ctx.BodyParser(&req); err != nil {
		return collaberr.Invalid("malformed body: %v", err)
	}

	res, err := c.collabService.CommitSection(ctx.UserContext(), serverutils.SessionFrom(ctx), id, ctx.Params("sectionId"), &req)
	if err != nil {
		return err
	}

	return ctx.JSON(serverutils.SuccessResponse("Success commit section", res))
}

func (c *sectionController) AcquireLock(ctx *fiber.Ctx) error {
	id, err := documentID(ctx)
	if err != nil {
		return err
	}

	res, err := c.collabService.AcquireLock(ctx.UserContext(), serverutils.SessionFrom(ctx), id, ctx.Params("sectionId"))
	if err != nil {
		return err
	}

	return ctx.JSON(serverutils.SuccessResponse("Success acquire lock", res))
}

func (c *sectionController) ReleaseLock(ctx *fiber.Ctx) error {
	id, err := documentID(ctx)
	if err != nil {
		return err
	}

	if err := c.collabService.ReleaseLock(ctx.UserContext(), serverutils.SessionFrom(ctx), id, ctx.Params("sectionId")); err != nil {
		return err
	}

	return ctx.JSON(serverutils.SuccessResponse[any]("Success release lock", nil))
}

func (c *sectionController) ActiveLocks(ctx *fiber.Ctx) error {
	id, err := documentID(ctx)
	if err != nil {
		return err
	}

	res, err := c.collabService.GetActiveLocks(ctx.UserContext(), serverutils.SessionFrom(ctx), id)
	if err != nil {
		return err
	}

	return ctx.JSON(serverutils.SuccessResponse("Success list locks", res))
}
