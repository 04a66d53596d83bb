package echoapi

import (
	mrand "math/rand"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/miradi/core/group"
	"github.com/trezcool/miradi/core/student"
	"github.com/trezcool/miradi/core/user"
)

type groupApi struct {
	svc      *group.Service
	students *student.Service
	users    user.ServiceInterface
	validate *validator.Validate
}

func registerGroupAPI(g *echo.Group, jwt echo.MiddlewareFunc, auth *authenticator, deps ServerDeps) {
	api := groupApi{
		svc:      deps.GroupSvc,
		students: deps.StudentSvc,
		users:    deps.UserSvc,
		validate: deps.Validate,
	}

	gg := g.Group("/groups", jwt)
	gg.POST("/pair", api.pair, coordinatorMiddleware())
	gg.GET("", api.query, supervisorMiddleware())
	gg.GET("/:id", api.retrieve)
	gg.DELETE("/:id", api.destroy, coordinatorMiddleware())

	gg.POST("/splits", api.requestSplit, studentMiddleware())
	gg.GET("/splits", api.querySplits, coordinatorMiddleware())
	gg.POST("/splits/:id/reject", api.rejectSplit, coordinatorMiddleware())
}

// Handlers

func (api *groupApi) pair(ctx echo.Context) error {
	var data group.PairRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to PairRequest")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	ctxUsr, err := getContextUser(ctx, api.users)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}

	rnd := mrand.New(mrand.NewSource(time.Now().UnixNano()))
	paired, err := api.svc.Pair(ctx.Request().Context(), data, ctxUsr.ID, rnd)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusCreated, paired)
}

func (api *groupApi) query(ctx echo.Context) error {
	groups, err := api.svc.QueryAll(ctx.Request().Context())
	if err != nil {
		return errors.Wrap(err, "querying groups")
	}
	if groups == nil {
		groups = []group.Group{}
	}
	return ctx.JSON(http.StatusOK, groups)
}

func (api *groupApi) retrieve(ctx echo.Context) error {
	grp, err := api.svc.GetByID(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, grp)
}

func (api *groupApi) destroy(ctx echo.Context) error {
	if err := api.svc.Delete(ctx.Request().Context(), ctx.Param("id")); err != nil {
		return err
	}
	return ctx.NoContent(http.StatusNoContent)
}

func (api *groupApi) requestSplit(ctx echo.Context) error {
	var data group.NewSplitRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewSplitRequest")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	std, err := api.contextStudent(ctx)
	if err != nil {
		return err
	}

	req, err := api.svc.RequestSplit(ctx.Request().Context(), data, std.ID)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusCreated, req)
}

func (api *groupApi) querySplits(ctx echo.Context) error {
	var filter group.SplitQueryFilter
	if err := ctx.Bind(&filter); err != nil {
		return ctx.JSON(http.StatusOK, []group.SplitRequest{})
	}

	reqs, err := api.svc.QuerySplitRequests(ctx.Request().Context(), filter)
	if err != nil {
		return errors.Wrap(err, "querying split requests")
	}
	if reqs == nil {
		reqs = []group.SplitRequest{}
	}
	return ctx.JSON(http.StatusOK, reqs)
}

func (api *groupApi) rejectSplit(ctx echo.Context) error {
	var data ReviewSplitRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to ReviewSplitRequest")
	}

	ctxUsr, err := getContextUser(ctx, api.users)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}

	req, err := api.svc.RejectSplit(ctx.Request().Context(), ctx.Param("id"), ctxUsr.ID, data.ReviewNotes)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, req)
}

func (api *groupApi) contextStudent(ctx echo.Context) (student.Student, error) {
	ctxUsr, err := getContextUser(ctx, api.users)
	if err != nil {
		return student.Student{}, errors.Wrap(err, "getting context user")
	}
	std, err := api.students.GetByUserID(ctx.Request().Context(), ctxUsr.ID)
	if err != nil {
		return student.Student{}, err
	}
	return std, nil
}

type ReviewSplitRequest struct {
	ReviewNotes string `json:"review_notes"`
}
