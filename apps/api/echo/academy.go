package echoapi

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/miradi/core/project"
	"github.com/trezcool/miradi/core/student"
	"github.com/trezcool/miradi/core/supervisor"
	"github.com/trezcool/miradi/core/user"
)

// academyApi exposes the student, supervisor and project catalogs.
type academyApi struct {
	students    *student.Service
	supervisors *supervisor.Service
	projects    *project.Service
	users       user.ServiceInterface
	validate    *validator.Validate
}

func registerAcademyAPI(g *echo.Group, jwt echo.MiddlewareFunc, auth *authenticator, deps ServerDeps) {
	api := academyApi{
		students:    deps.StudentSvc,
		supervisors: deps.SupervisorSvc,
		projects:    deps.ProjectSvc,
		users:       deps.UserSvc,
		validate:    deps.Validate,
	}

	sg := g.Group("/students", jwt)
	sg.POST("", api.enrollStudent, coordinatorMiddleware())
	sg.GET("", api.queryStudents, supervisorMiddleware())
	sg.GET("/:id", api.retrieveStudent, supervisorMiddleware())
	sg.DELETE("/:id", api.destroyStudent, coordinatorMiddleware())

	vg := g.Group("/supervisors", jwt)
	vg.POST("", api.registerSupervisor, coordinatorMiddleware())
	vg.GET("", api.querySupervisors, supervisorMiddleware())
	vg.GET("/:id", api.retrieveSupervisor, supervisorMiddleware())
	vg.DELETE("/:id", api.destroySupervisor, coordinatorMiddleware())

	pg := g.Group("/projects", jwt)
	pg.POST("", api.proposeProject, supervisorMiddleware())
	pg.GET("", api.queryProjects)
	pg.GET("/:id", api.retrieveProject)
	pg.PUT("/:id", api.updateProject, supervisorMiddleware())
	pg.POST("/:id/approve", api.approveProject, coordinatorMiddleware())
	pg.POST("/:id/reject", api.rejectProject, coordinatorMiddleware())
	pg.DELETE("/:id", api.destroyProject, coordinatorMiddleware())
}

// Student handlers

func (api *academyApi) enrollStudent(ctx echo.Context) error {
	var data student.NewStudent
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewStudent")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	std, err := api.students.Enroll(ctx.Request().Context(), data)
	if err != nil {
		return errors.Wrap(err, "enrolling student")
	}
	return ctx.JSON(http.StatusCreated, std)
}

func (api *academyApi) queryStudents(ctx echo.Context) error {
	var filter student.QueryFilter
	if err := ctx.Bind(&filter); err != nil {
		return ctx.JSON(http.StatusOK, []student.Student{})
	}

	students, err := api.students.Filter(ctx.Request().Context(), filter)
	if err != nil {
		return errors.Wrap(err, "querying students")
	}
	if students == nil {
		students = []student.Student{}
	}
	return ctx.JSON(http.StatusOK, students)
}

func (api *academyApi) retrieveStudent(ctx echo.Context) error {
	std, err := api.students.GetByID(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, std)
}

func (api *academyApi) destroyStudent(ctx echo.Context) error {
	if err := api.students.Delete(ctx.Request().Context(), ctx.Param("id")); err != nil {
		return errors.Wrap(err, "deleting student")
	}
	return ctx.NoContent(http.StatusNoContent)
}

// Supervisor handlers

func (api *academyApi) registerSupervisor(ctx echo.Context) error {
	var data supervisor.NewSupervisor
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewSupervisor")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	sup, err := api.supervisors.Register(ctx.Request().Context(), data)
	if err != nil {
		return errors.Wrap(err, "registering supervisor")
	}
	return ctx.JSON(http.StatusCreated, sup)
}

func (api *academyApi) querySupervisors(ctx echo.Context) error {
	sups, err := api.supervisors.QueryAll(ctx.Request().Context())
	if err != nil {
		return errors.Wrap(err, "querying supervisors")
	}
	if sups == nil {
		sups = []supervisor.Supervisor{}
	}
	return ctx.JSON(http.StatusOK, sups)
}

func (api *academyApi) retrieveSupervisor(ctx echo.Context) error {
	sup, err := api.supervisors.GetByID(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, sup)
}

func (api *academyApi) destroySupervisor(ctx echo.Context) error {
	if err := api.supervisors.Delete(ctx.Request().Context(), ctx.Param("id")); err != nil {
		return errors.Wrap(err, "deleting supervisor")
	}
	return ctx.NoContent(http.StatusNoContent)
}

// Project handlers

func (api *academyApi) proposeProject(ctx echo.Context) error {
	var data project.NewProject
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewProject")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	// a supervisor may only propose for themselves
	ctxUsr, err := getContextUser(ctx, api.users)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	if !ctxUsr.IsCoordinator() {
		sup, err := api.supervisors.GetByUserID(ctx.Request().Context(), ctxUsr.ID)
		if err != nil {
			return errors.Wrap(err, "finding supervisor by user ID")
		}
		if data.SupervisorID != sup.ID {
			return errHttpForbidden
		}
	}

	prj, err := api.projects.Propose(ctx.Request().Context(), data)
	if err != nil {
		return errors.Wrap(err, "proposing project")
	}
	return ctx.JSON(http.StatusCreated, prj)
}

func (api *academyApi) queryProjects(ctx echo.Context) error {
	var filter project.QueryFilter
	if err := ctx.Bind(&filter); err != nil {
		return ctx.JSON(http.StatusOK, []project.Project{})
	}

	projects, err := api.projects.Filter(ctx.Request().Context(), filter)
	if err != nil {
		return errors.Wrap(err, "querying projects")
	}
	if projects == nil {
		projects = []project.Project{}
	}
	return ctx.JSON(http.StatusOK, projects)
}

func (api *academyApi) retrieveProject(ctx echo.Context) error {
	prj, err := api.projects.GetByID(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, prj)
}

func (api *academyApi) updateProject(ctx echo.Context) error {
	var data project.UpdateProject
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to UpdateProject")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	// only a coordinator may flip the approval status
	ctxUsr, err := getContextUser(ctx, api.users)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	if data.Status != "" && !ctxUsr.IsCoordinator() {
		return errHttpForbidden
	}

	prj, err := api.projects.Update(ctx.Request().Context(), ctx.Param("id"), data)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, prj)
}

func (api *academyApi) approveProject(ctx echo.Context) error {
	prj, err := api.projects.Approve(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, prj)
}

func (api *academyApi) rejectProject(ctx echo.Context) error {
	prj, err := api.projects.Reject(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, prj)
}

func (api *academyApi) destroyProject(ctx echo.Context) error {
	if err := api.projects.Delete(ctx.Request().Context(), ctx.Param("id")); err != nil {
		return errors.Wrap(err, "deleting project")
	}
	return ctx.NoContent(http.StatusNoContent)
}
