package main

import (
	"errors"
	"flag"
	"fmt"
	"syscall"

	"golang.org/x/term"

	"github.com/trezcool/miradi/core/user"
	"github.com/trezcool/miradi/storage/database"
)

var (
	readPasswordFunc = term.ReadPassword // mockable

	errHelp = errors.New("help provided")
)

type commandLine struct {
	db      *database.DB
	usrRepo user.Repository
}

func (cli *commandLine) printUsage() {
	fmt.Println("Usage:")
	fmt.Println("  addcoordinator -username USERNAME [-email EMAIL] - update or create a coordinator account")
	fmt.Println("  migrate COMMAND [ARGS] - run database migrations (up, down, status, ...)")
}

func (cli *commandLine) run(args []string) error {
	if len(args) < 2 {
		cli.printUsage()
		return errHelp
	}

	addCoordinatorCmd := flag.NewFlagSet("addcoordinator", flag.ExitOnError)
	addCoordinatorUname := addCoordinatorCmd.String("username", "", "The coordinator's username. The password will be prompted next.")
	addCoordinatorEmail := addCoordinatorCmd.String("email", "", "The coordinator's email.")

	switch args[1] {
	case "addcoordinator":
		if err := addCoordinatorCmd.Parse(args[2:]); err != nil {
			return err
		}
		if *addCoordinatorUname == "" {
			addCoordinatorCmd.Usage()
			return errHelp
		}
		fmt.Print("Enter password:")
		pwd, err := readPasswordFunc(syscall.Stdin)
		fmt.Println()
		if err != nil {
			return err
		}
		if len(pwd) == 0 {
			addCoordinatorCmd.Usage()
			return errHelp
		}
		return cli.addCoordinator(*addCoordinatorUname, *addCoordinatorEmail, string(pwd))
	case "migrate":
		if len(args) < 3 {
			cli.printUsage()
			return errHelp
		}
		return cli.migrate(args[2:])
	default:
		cli.printUsage()
		return errHelp
	}
}
