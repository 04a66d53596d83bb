package echoapi

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/miradi/core/allocation"
	"github.com/trezcool/miradi/core/group"
	"github.com/trezcool/miradi/core/student"
	"github.com/trezcool/miradi/core/user"
)

type allocationApi struct {
	svc      *allocation.Service
	students *student.Service
	users    user.ServiceInterface
	validate *validator.Validate
}

func registerAllocationAPI(g *echo.Group, jwt echo.MiddlewareFunc, auth *authenticator, deps ServerDeps) {
	api := allocationApi{
		svc:      deps.AllocSvc,
		students: deps.StudentSvc,
		users:    deps.UserSvc,
		validate: deps.Validate,
	}

	ag := g.Group("/allocations", jwt)

	ag.POST("/preferences", api.submitPreferences, studentMiddleware())
	ag.GET("/preferences", api.myPreferences, studentMiddleware())

	ag.POST("/run", api.runMatching, coordinatorMiddleware())
	ag.GET("/status", api.status, coordinatorMiddleware())
	ag.GET("/results", api.results)

	ag.POST("", api.allocate, coordinatorMiddleware())
	ag.GET("", api.query, coordinatorMiddleware())
	ag.GET("/:id", api.retrieve, coordinatorMiddleware())
	ag.PUT("/:id", api.update, coordinatorMiddleware())
	ag.DELETE("/:id", api.destroy, coordinatorMiddleware())

	ag.POST("/splits/:id/approve", api.approveSplit, coordinatorMiddleware())
}

// Handlers

func (api *allocationApi) submitPreferences(ctx echo.Context) error {
	var data allocation.SubmitPreferences
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to SubmitPreferences")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	std, err := api.contextStudent(ctx)
	if err != nil {
		return err
	}

	prefs, err := api.svc.SubmitPreferences(ctx.Request().Context(), std.ID, data)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusCreated, prefs)
}

func (api *allocationApi) myPreferences(ctx echo.Context) error {
	std, err := api.contextStudent(ctx)
	if err != nil {
		return err
	}

	prefs, err := api.svc.GetMyPreferences(ctx.Request().Context(), std.ID)
	if err != nil {
		return errors.Wrap(err, "querying preferences")
	}
	if prefs == nil {
		prefs = []allocation.Preference{}
	}
	return ctx.JSON(http.StatusOK, prefs)
}

func (api *allocationApi) runMatching(ctx echo.Context) error {
	ctxUsr, err := getContextUser(ctx, api.users)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}

	report, err := api.svc.RunMatching(ctx.Request().Context(), ctxUsr.ID)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, report)
}

func (api *allocationApi) status(ctx echo.Context) error {
	report, err := api.svc.GetStatus(ctx.Request().Context())
	if err != nil {
		return errors.Wrap(err, "building status report")
	}
	return ctx.JSON(http.StatusOK, report)
}

func (api *allocationApi) results(ctx echo.Context) error {
	ctxUsr, err := getContextUser(ctx, api.users)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}

	allocs, err := api.svc.ResultsForRole(ctx.Request().Context(), ctxUsr)
	if err != nil {
		return err
	}
	if allocs == nil {
		allocs = []allocation.Allocation{}
	}
	return ctx.JSON(http.StatusOK, allocs)
}

func (api *allocationApi) allocate(ctx echo.Context) error {
	var data allocation.ManualAllocation
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to ManualAllocation")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	ctxUsr, err := getContextUser(ctx, api.users)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}

	alloc, err := api.svc.ManualAllocate(ctx.Request().Context(), data, ctxUsr.ID)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusCreated, alloc)
}

func (api *allocationApi) query(ctx echo.Context) error {
	var filter allocation.QueryFilter
	if err := ctx.Bind(&filter); err != nil {
		return ctx.JSON(http.StatusOK, []allocation.Allocation{})
	}

	allocs, err := api.svc.Filter(ctx.Request().Context(), filter)
	if err != nil {
		return errors.Wrap(err, "querying allocations")
	}
	if allocs == nil {
		allocs = []allocation.Allocation{}
	}
	return ctx.JSON(http.StatusOK, allocs)
}

func (api *allocationApi) retrieve(ctx echo.Context) error {
	alloc, err := api.svc.GetByID(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, alloc)
}

func (api *allocationApi) update(ctx echo.Context) error {
	var data allocation.UpdateAllocation
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to UpdateAllocation")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	alloc, err := api.svc.Update(ctx.Request().Context(), ctx.Param("id"), data)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, alloc)
}

func (api *allocationApi) destroy(ctx echo.Context) error {
	if err := api.svc.Delete(ctx.Request().Context(), ctx.Param("id")); err != nil {
		return err
	}
	return ctx.NoContent(http.StatusNoContent)
}

func (api *allocationApi) approveSplit(ctx echo.Context) error {
	ctxUsr, err := getContextUser(ctx, api.users)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}

	req, alloc, err := api.svc.ApproveSplit(ctx.Request().Context(), ctx.Param("id"), ctxUsr.ID)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, ApproveSplitResponse{Request: req, Allocation: alloc})
}

func (api *allocationApi) contextStudent(ctx echo.Context) (student.Student, error) {
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

type ApproveSplitResponse struct {
	Request    group.SplitRequest     `json:"request"`
	Allocation *allocation.Allocation `json:"allocation,omitempty"`
}
