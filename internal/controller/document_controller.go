package controller

import (
	"strconv"

	"section-collab-be/internal/dto"
	"section-collab-be/internal/pkg/serverutils"
	"section-collab-be/internal/service"
	"section-collab-be/pkg/collaberr"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

type IDocumentController interface {
	RegisterRoutes(r fiber.Router)
	Create(ctx *fiber.Ctx) error
	Show(ctx *fiber.Ctx) error
	ListVersions(ctx *fiber.Ctx) error
	ShowVersion(ctx *fiber.Ctx) error
	SaveVersion(ctx *fiber.Ctx) error
}

type documentController struct {
	collabService service.ICollaborationService
	jwt           fiber.Handler
}

func NewDocumentController(collabService service.ICollaborationService, jwt fiber.Handler) IDocumentController {
	return &documentController{
		collabService: collabService,
		jwt:           jwt,
	}
}

func (c *documentController) RegisterRoutes(r fiber.Router) {
	// sections and the realtime handler share the prefix, so auth is attached per route
	h := r.Group("/documents/v1")
	h.Post("", c.jwt, c.Create)
	h.Get(":id", c.jwt, c.Show)
	h.Get(":id/versions", c.jwt, c.ListVersions)
	h.Get(":id/versions/:number", c.jwt, c.ShowVersion)
	h.Post(":id/versions", c.jwt, c.SaveVersion)
}

func (c *documentController) Create(ctx *fiber.Ctx) error {
	var req dto.CreateDocumentRequest
	if err := ctx.BodyParser(&req); err != nil {
		return collaberr.Invalid("malformed body: %v", err)
	}
	if err := serverutils.ValidateRequest(req); err != nil {
		return err
	}

	res, err := c.collabService.CreateDocument(ctx.UserContext(), serverutils.SessionFrom(ctx), &req)
	if err != nil {
		return err
	}

	return ctx.Status(fiber.StatusCreated).JSON(serverutils.SuccessResponse("Success create document", res))
}

func (c *documentController) Show(ctx *fiber.Ctx) error {
	id, err := documentID(ctx)
	if err != nil {
		return err
	}

	res, err := c.collabService.ShowDocument(ctx.UserContext(), serverutils.SessionFrom(ctx), id)
	if err != nil {
		return err
	}

	return ctx.JSON(serverutils.SuccessResponse("Success show document", res))
}

func (c *documentController) ListVersions(ctx *fiber.Ctx) error {
	id, err := documentID(ctx)
	if err != nil {
		return err
	}

	res, err := c.collabService.ListVersions(ctx.UserContext(), serverutils.SessionFrom(ctx), id)
	if err != nil {
		return err
	}

	return ctx.JSON(serverutils.SuccessResponse("Success list versions", res))
}

func (c *documentController) ShowVersion(ctx *fiber.Ctx) error {
	id, err := documentID(ctx)
	if err != nil {
		return err
	}
	number, err := strconv.Atoi(ctx.Params("number"))
	if err != nil || number < 1 {
		return collaberr.Invalid("version number must be a positive integer")
	}

	res, err := c.collabService.ShowVersion(ctx.UserContext(), serverutils.SessionFrom(ctx), id, number)
	if err != nil {
		return err
	}

	return ctx.JSON(serverutils.SuccessResponse("Success show version", res))
}

func (c *documentController) SaveVersion(ctx *fiber.Ctx) error {
	id, err := documentID(ctx)
	if err != nil {
		return err
	}

	var req dto.SaveVersionRequest
	if err := ctx.BodyParser(&req); err != nil {
		return collaberr.Invalid("malformed body: %v", err)
	}
	if err := serverutils.ValidateRequest(req); err != nil {
		return err
	}

	res, err := c.collabService.SaveVersion(ctx.UserContext(), serverutils.SessionFrom(ctx), id, &req)
	if err != nil {
		return err
	}

	return ctx.Status(fiber.StatusCreated).JSON(serverutils.SuccessResponse("Success save version", res))
}

func documentID(ctx *fiber.Ctx) (uuid.UUID, error) {
	id, err := uuid.Parse(ctx.Params("id"))
	if err != nil {
		return uuid.Nil, collaberr.Invalid("invalid document id %q", ctx.Params("id"))
	}
	return id, nil
}
